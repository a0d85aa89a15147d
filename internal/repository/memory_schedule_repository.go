package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// MemoryScheduleRepository keeps schedules in process memory. Scheduling
// runs are serialized per resource with a keyed mutex.
type MemoryScheduleRepository struct {
	mu   sync.Mutex
	rows map[string]*model.Schedule

	lmu   sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemoryScheduleRepository() *MemoryScheduleRepository {
	return &MemoryScheduleRepository{
		rows:  make(map[string]*model.Schedule),
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *MemoryScheduleRepository) resourceLock(id string) *sync.Mutex {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *MemoryScheduleRepository) Committed(ctx context.Context, resourceID, day string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.rows {
		if s.ResourceID == resourceID && s.ScheduledDay == day {
			n++
		}
	}
	return n, nil
}

func (r *MemoryScheduleRepository) Commit(ctx context.Context, resourceID string, plan PlanFunc) ([]*model.Schedule, error) {
	l := r.resourceLock(resourceID)
	l.Lock()
	defer l.Unlock()

	rows, err := plan(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range rows {
		if _, dup := r.rows[s.ID]; dup {
			return nil, appErrors.NewDuplicateSchedule(s.ID, nil)
		}
	}
	for _, s := range rows {
		r.rows[s.ID] = clone(s)
	}
	return rows, nil
}

func (r *MemoryScheduleRepository) GetByID(ctx context.Context, id string) (*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, appErrors.NewScheduleNotFound(id)
	}
	return clone(s), nil
}

func (r *MemoryScheduleRepository) List(ctx context.Context, f model.ScheduleFilter) ([]*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Schedule{}
	for _, s := range r.rows {
		if f.Match(s) {
			out = append(out, clone(s))
		}
	}
	sortSchedules(out)
	return out, nil
}

func (r *MemoryScheduleRepository) ListDue(ctx context.Context, now time.Time, limit int, gated []model.Channel) ([]*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Schedule{}
	for _, s := range r.rows {
		if s.Status != model.StatusPending || s.ScheduledFor.After(now) || s.Claimed(now) {
			continue
		}
		if !s.Approved && slices.Contains(gated, s.Channel) {
			continue
		}
		out = append(out, clone(s))
	}
	sortSchedules(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryScheduleRepository) Approve(ctx context.Context, ids []string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		s, ok := r.rows[id]
		if !ok || s.Status != model.StatusPending || s.Approved {
			continue
		}
		t := at
		s.Approved = true
		s.ApprovedAt = &t
		s.UpdatedAt = at
		n++
	}
	return n, nil
}

func (r *MemoryScheduleRepository) Claim(ctx context.Context, id string, from model.ScheduleStatus, worker string, now, until time.Time) (*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, appErrors.NewScheduleNotFound(id)
	}
	if s.Status != from || s.InDispatch(now) {
		return nil, appErrors.ErrClaimConflict
	}
	u := until
	s.ClaimedBy = worker
	s.ClaimExpires = &u
	s.UpdatedAt = now
	return clone(s), nil
}

func (r *MemoryScheduleRepository) MarkQueued(ctx context.Context, ids []string, now, until time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	marked := []string{}
	for _, id := range ids {
		s, ok := r.rows[id]
		if !ok || s.Status != model.StatusPending || s.Claimed(now) {
			continue
		}
		u := until
		s.ClaimedBy = model.QueuedBy
		s.ClaimExpires = &u
		s.UpdatedAt = now
		marked = append(marked, id)
	}
	return marked, nil
}

func (r *MemoryScheduleRepository) Release(ctx context.Context, id, worker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[id]; ok && s.ClaimedBy == worker {
		s.ClaimedBy = ""
		s.ClaimExpires = nil
	}
	return nil
}

func (r *MemoryScheduleRepository) Complete(ctx context.Context, id, worker string, out model.Outcome) (*model.Schedule, error) {
	if out.Status != model.StatusSent && out.Status != model.StatusFailed {
		return nil, fmt.Errorf("invalid outcome status %q", out.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.ClaimedBy != worker || s.Status == model.StatusSent {
		return nil, appErrors.ErrClaimLost
	}
	s.Status = out.Status
	s.LastError = out.Error
	s.Attempts++
	if out.Status == model.StatusSent {
		t := out.At
		s.SentAt = &t
	}
	s.ClaimedBy = ""
	s.ClaimExpires = nil
	s.UpdatedAt = out.At
	return clone(s), nil
}

func (r *MemoryScheduleRepository) DeletePending(ctx context.Context, ids []string, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := []string{}
	for _, id := range ids {
		s, ok := r.rows[id]
		if !ok || s.Status != model.StatusPending || s.InDispatch(now) {
			continue
		}
		delete(r.rows, id)
		deleted = append(deleted, id)
	}
	return deleted, nil
}

func clone(s *model.Schedule) *model.Schedule {
	cp := *s
	return &cp
}

func sortSchedules(rows []*model.Schedule) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

var _ ScheduleRepositoryInterface = (*MemoryScheduleRepository)(nil)
