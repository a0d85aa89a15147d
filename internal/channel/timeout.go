package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// Timed fails a send that has not returned within d. The wrapped call keeps
// its cancelled context and is abandoned.
type Timed struct {
	next Adapter
	d    time.Duration
}

func WithTimeout(next Adapter, d time.Duration) *Timed {
	return &Timed{next: next, d: d}
}

func (t *Timed) Supports(ch model.Channel) bool { return t.next.Supports(ch) }

func (t *Timed) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- t.next.Send(ctx, msg) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", ErrSendTimeout, t.d)
	}
}
