package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// Message is everything an adapter needs to deliver one schedule.
type Message struct {
	ScheduleID string
	Channel    model.Channel
	From       string
	Address    string
	CustomerID string
	Template   *model.Template
}

// Adapter delivers messages for the channels it supports. Provider
// protocols live behind this interface.
type Adapter interface {
	Supports(ch model.Channel) bool
	Send(ctx context.Context, msg Message) error
}

var (
	ErrNoAdapter   = errors.New("no adapter for channel")
	ErrSendTimeout = errors.New("channel send timed out")
)

// Registry routes a message to the first adapter supporting its channel.
type Registry struct {
	adapters []Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

func (r *Registry) Supports(ch model.Channel) bool {
	for _, a := range r.adapters {
		if a.Supports(ch) {
			return true
		}
	}
	return false
}

func (r *Registry) Send(ctx context.Context, msg Message) error {
	for _, a := range r.adapters {
		if a.Supports(msg.Channel) {
			return a.Send(ctx, msg)
		}
	}
	return fmt.Errorf("%w %s", ErrNoAdapter, msg.Channel)
}

var _ Adapter = (*Registry)(nil)
