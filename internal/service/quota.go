package service

import (
	"context"
	"math"

	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

// QuotaPolicy is the daily capacity rule of a sending resource.
type QuotaPolicy struct {
	Limit     int
	Unbounded bool
}

// PolicyFor derives the policy of res. Voice lines and resources without a
// daily limit are unbounded.
func PolicyFor(res *model.SendingResource) QuotaPolicy {
	if res.Channel == model.ChannelVoice || res.Unbounded() {
		return QuotaPolicy{Unbounded: true}
	}
	return QuotaPolicy{Limit: *res.DailyLimit}
}

// Remaining is the capacity left once committed jobs are counted.
func (p QuotaPolicy) Remaining(committed int) int {
	if p.Unbounded {
		return math.MaxInt
	}
	if left := p.Limit - committed; left > 0 {
		return left
	}
	return 0
}

// QuotaAllocator answers remaining-capacity questions from committed
// schedule rows. Quota is consumed when a job is scheduled, whatever its
// status.
type QuotaAllocator struct {
	Counter repository.CommitCounter
}

func (a *QuotaAllocator) Remaining(ctx context.Context, res *model.SendingResource, day string) (int, error) {
	p := PolicyFor(res)
	if p.Unbounded {
		return p.Remaining(0), nil
	}
	n, err := a.Counter.Committed(ctx, res.ID, day)
	if err != nil {
		return 0, err
	}
	return p.Remaining(n), nil
}
