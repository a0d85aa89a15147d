package service

import (
	"time"

	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// ApprovalGate decides whether a schedule waits for an explicit approval
// before it may be dispatched.
type ApprovalGate interface {
	RequiresApproval(s *model.Schedule) bool
}

// ChannelApproval gates every schedule on the listed channels. The empty
// set makes approval advisory.
type ChannelApproval struct {
	channels []model.Channel
}

func NewChannelApproval(names []string) (*ChannelApproval, error) {
	g := &ChannelApproval{}
	for _, n := range names {
		ch, err := model.ParseChannel(n)
		if err != nil {
			return nil, err
		}
		g.channels = append(g.channels, ch)
	}
	return g, nil
}

func (g *ChannelApproval) RequiresApproval(s *model.Schedule) bool {
	for _, ch := range g.channels {
		if ch == s.Channel {
			return true
		}
	}
	return false
}

// Channels lists the gated channels.
func (g *ChannelApproval) Channels() []model.Channel {
	return append([]model.Channel(nil), g.channels...)
}

// Eligible is the dispatch condition: pending, due and, when gated,
// approved.
func Eligible(s *model.Schedule, gate ApprovalGate, now time.Time) bool {
	if s.Status != model.StatusPending || s.ScheduledFor.After(now) {
		return false
	}
	return gate == nil || !gate.RequiresApproval(s) || s.Approved
}

// ChannelGate is an ApprovalGate that can list what it gates, so the store
// can skip unapproved rows when polling.
type ChannelGate interface {
	ApprovalGate
	Channels() []model.Channel
}

var _ ChannelGate = (*ChannelApproval)(nil)
