package service

import (
	"context"
	"time"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

const dayLayout = "2006-01-02"

// DayKey is the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayLayout)
}

// Batch is the run of recipients placed on one calendar day.
type Batch struct {
	Day        string
	At         time.Time
	Recipients []model.Recipient
}

// BatchPlanner packs recipients into days greedily: each day takes as many
// as its remaining capacity allows, in resolver order, then the cursor
// moves one calendar day forward. The time of day of start is kept.
type BatchPlanner struct {
	Location      *time.Location
	LookaheadDays int
}

// Plan returns the batches for recipients. When the horizon runs out the
// batches placed so far are returned together with ErrCapacityExhausted.
func (p BatchPlanner) Plan(ctx context.Context, recipients []model.Recipient, start time.Time, resourceID string, policy QuotaPolicy, counter repository.CommitCounter) ([]Batch, error) {
	if len(recipients) == 0 {
		return nil, nil
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	start = start.In(loc)

	if policy.Unbounded {
		return []Batch{{Day: DayKey(start, loc), At: start, Recipients: recipients}}, nil
	}

	var (
		batches []Batch
		queue   = recipients
		placed  int
	)
	for offset := 0; offset < p.LookaheadDays && len(queue) > 0; offset++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at := start.AddDate(0, 0, offset)
		day := DayKey(at, loc)

		committed, err := counter.Committed(ctx, resourceID, day)
		if err != nil {
			return nil, err
		}
		capacity := policy.Remaining(committed)
		if capacity <= 0 {
			continue
		}

		take := min(capacity, len(queue))
		batches = append(batches, Batch{Day: day, At: at, Recipients: queue[:take]})
		queue = queue[take:]
		placed += take
	}

	if len(queue) > 0 {
		return batches, appErrors.NewCapacityExhausted(resourceID, placed, len(queue), p.LookaheadDays)
	}
	return batches, nil
}
