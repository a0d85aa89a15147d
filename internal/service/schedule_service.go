package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

// CreateRequest asks for one scheduling run. Without StartAt a grouped run
// starts now; ad-hoc runs always go out now.
type CreateRequest struct {
	Channel     model.Channel `json:"channel"`
	TemplateID  string        `json:"template_id"`
	ResourceID  string        `json:"resource_id,omitempty"`
	Description string        `json:"description,omitempty"`
	StartAt     *time.Time    `json:"start_at,omitempty"`
	GroupRef
}

type BatchSummary struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type CreateResult struct {
	Created     int            `json:"created"`
	Invalid     int            `json:"invalid"`
	ResourceID  string         `json:"resource_id"`
	Batches     []BatchSummary `json:"batches"`
	ScheduleIDs []string       `json:"schedule_ids"`
}

type PreviewResult struct {
	Valid      int            `json:"valid"`
	Invalid    int            `json:"invalid"`
	Unplaced   int            `json:"unplaced"`
	ResourceID string         `json:"resource_id"`
	Batches    []BatchSummary `json:"batches"`
}

type DeleteResult struct {
	Deleted []string `json:"deleted"`
	Skipped []string `json:"skipped"`
}

type RemainingQuota struct {
	ResourceID string `json:"resource_id"`
	Date       string `json:"date"`
	DailyLimit *int   `json:"daily_limit"`
	Committed  int    `json:"committed"`
	Remaining  *int   `json:"remaining"`
}

// Retrier re-attempts a failed schedule.
type Retrier interface {
	Retry(ctx context.Context, id string) (*model.Schedule, error)
}

// DispatchTrigger starts delivery of stored schedules without waiting for
// the next poll.
type DispatchTrigger interface {
	Trigger(ctx context.Context, ids []string) error
}

// ScheduleService is the entry point for creating, inspecting, approving,
// retrying and cancelling schedules.
type ScheduleService struct {
	Schedules     repository.ScheduleRepositoryInterface
	Directory     repository.DirectoryRepositoryInterface
	Templates     repository.TemplateRepositoryInterface
	Resources     repository.ResourceRepositoryInterface
	Retrier       Retrier
	Trigger       DispatchTrigger
	Location      *time.Location
	LookaheadDays int
	Now           func() time.Time
	NewID         func() string
	Log           zerolog.Logger
}

// NewScheduleService fills clock, id and logging defaults.
func NewScheduleService(s ScheduleService) *ScheduleService {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.LookaheadDays <= 0 {
		s.LookaheadDays = 10
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.NewID == nil {
		s.NewID = newScheduleID
	}
	return &s
}

func newScheduleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// run is a validated request with everything resolved except capacity.
type run struct {
	req        CreateRequest
	resource   *model.SendingResource
	resolution *Resolution
	start      time.Time
	planner    BatchPlanner
}

func (s *ScheduleService) prepare(ctx context.Context, req CreateRequest) (*run, error) {
	if !req.Channel.IsValid() {
		return nil, appErrors.NewInvalidRequest("channel", fmt.Sprintf("unknown channel %q", req.Channel))
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		return nil, appErrors.NewInvalidRequest("template_id", "required")
	}
	if err := req.GroupRef.Validate(); err != nil {
		return nil, err
	}

	tpl, err := s.Templates.GetByID(ctx, req.TemplateID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return nil, appErrors.NewInvalidTemplate(req.TemplateID, "not found", err)
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	if tpl.Channel != req.Channel {
		return nil, appErrors.NewInvalidTemplate(req.TemplateID, fmt.Sprintf("template is for %s, not %s", tpl.Channel, req.Channel), nil)
	}

	res, err := s.resource(ctx, req)
	if err != nil {
		return nil, err
	}

	resolver := &RecipientResolver{Directory: s.Directory}
	resolution, err := resolver.Resolve(ctx, req.GroupRef, req.Channel)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	r := &run{req: req, resource: res, resolution: resolution, start: now}
	r.planner = BatchPlanner{Location: s.Location, LookaheadDays: s.LookaheadDays}
	if !req.Grouped() {
		r.planner.LookaheadDays = 1
	} else if req.StartAt != nil {
		r.start = *req.StartAt
	}
	return r, nil
}

// resource resolves the sending resource once so that scheduling never
// reads the active selection again.
func (s *ScheduleService) resource(ctx context.Context, req CreateRequest) (*model.SendingResource, error) {
	var (
		res *model.SendingResource
		err error
	)
	if req.ResourceID != "" {
		res, err = s.Resources.GetByID(ctx, req.ResourceID)
	} else {
		res, err = s.Resources.Active(ctx, req.Channel)
	}
	if err != nil {
		return nil, err
	}
	if res.Channel != req.Channel {
		return nil, appErrors.NewInvalidRequest("resource_id", fmt.Sprintf("resource %s sends %s, not %s", res.ID, res.Channel, req.Channel))
	}
	return res, nil
}

// CreateSchedules resolves, plans and stores one run. No rows are stored
// unless every recipient fits. An empty recipient set returns the result
// together with ErrEmptyRecipientSet.
func (s *ScheduleService) CreateSchedules(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	r, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &CreateResult{
		Invalid:     r.resolution.Invalid,
		ResourceID:  r.resource.ID,
		Batches:     []BatchSummary{},
		ScheduleIDs: []string{},
	}
	if len(r.resolution.Recipients) == 0 {
		return result, appErrors.ErrEmptyRecipientSet
	}

	policy := PolicyFor(r.resource)
	var batches []Batch
	rows, err := s.Schedules.Commit(ctx, r.resource.ID, func(ctx context.Context, counter repository.CommitCounter) ([]*model.Schedule, error) {
		var err error
		batches, err = r.planner.Plan(ctx, r.resolution.Recipients, r.start, r.resource.ID, policy, counter)
		if err != nil {
			return nil, err
		}
		return s.materialize(r, batches), nil
	})
	if err != nil {
		return nil, err
	}

	result.Created = len(rows)
	result.Batches = summarize(batches)
	for _, row := range rows {
		result.ScheduleIDs = append(result.ScheduleIDs, row.ID)
	}
	s.Log.Info().
		Str("channel", req.Channel.String()).
		Str("resource_id", r.resource.ID).
		Int("count", result.Created).
		Int("invalid", result.Invalid).
		Int("batches", len(result.Batches)).
		Msg("schedules created")

	// Ad-hoc runs send now. A failed trigger leaves the rows to the poller.
	if !req.Grouped() && s.Trigger != nil {
		if err := s.Trigger.Trigger(ctx, result.ScheduleIDs); err != nil {
			s.Log.Warn().Err(err).Int("count", len(result.ScheduleIDs)).Msg("immediate dispatch failed, leaving rows to the poller")
		}
	}
	return result, nil
}

func (s *ScheduleService) materialize(r *run, batches []Batch) []*model.Schedule {
	now := s.Now()
	var rows []*model.Schedule
	for _, b := range batches {
		for _, rc := range b.Recipients {
			rows = append(rows, &model.Schedule{
				ID:           s.NewID(),
				Channel:      r.req.Channel,
				CampaignID:   r.req.CampaignID,
				SegmentID:    r.req.SegmentID,
				TemplateID:   r.req.TemplateID,
				CustomerID:   rc.CustomerID,
				Address:      rc.Address,
				ResourceID:   r.resource.ID,
				Description:  r.req.Description,
				ScheduledFor: b.At,
				ScheduledDay: b.Day,
				Status:       model.StatusPending,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}
	}
	return rows
}

// PreviewSchedules plans a run without storing it. Recipients that do not
// fit the horizon are reported as unplaced.
func (s *ScheduleService) PreviewSchedules(ctx context.Context, req CreateRequest) (*PreviewResult, error) {
	r, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &PreviewResult{
		Valid:      len(r.resolution.Recipients),
		Invalid:    r.resolution.Invalid,
		ResourceID: r.resource.ID,
	}
	batches, err := r.planner.Plan(ctx, r.resolution.Recipients, r.start, r.resource.ID, PolicyFor(r.resource), s.Schedules)
	var exhausted *appErrors.ErrCapacityExhausted
	if errors.As(err, &exhausted) {
		result.Unplaced = exhausted.Remaining
	} else if err != nil {
		return nil, err
	}
	result.Batches = summarize(batches)
	return result, nil
}

func summarize(batches []Batch) []BatchSummary {
	out := make([]BatchSummary, len(batches))
	for i, b := range batches {
		out[i] = BatchSummary{Date: b.Day, Count: len(b.Recipients)}
	}
	return out
}

// ListSchedules returns the grouped view of the rows matching f.
func (s *ScheduleService) ListSchedules(ctx context.Context, f model.ScheduleFilter) (*GroupedView, error) {
	rows, err := s.Schedules.List(ctx, f)
	if err != nil {
		return nil, err
	}
	keys := map[string]bool{}
	for _, r := range rows {
		if k := r.GroupKey(); r.CampaignID != "" || r.SegmentID != "" {
			keys[k] = true
		}
	}
	ids := make([]string, 0, len(keys))
	for k := range keys {
		ids = append(ids, k)
	}
	names, err := s.Directory.GroupNames(ctx, ids)
	if err != nil {
		s.Log.Warn().Err(err).Msg("group names unavailable")
		names = map[string]string{}
	}
	return Group(rows, s.Location, names), nil
}

// Stats counts rows by status. ByDate counts pending rows per day.
func (s *ScheduleService) Stats(ctx context.Context, f model.ScheduleFilter) (*model.ScheduleStats, error) {
	rows, err := s.Schedules.List(ctx, f)
	if err != nil {
		return nil, err
	}
	st := &model.ScheduleStats{ByDate: map[string]int{}}
	for _, r := range rows {
		st.Total++
		switch r.Status {
		case model.StatusPending:
			st.Pending++
			st.ByDate[r.ScheduledDay]++
		case model.StatusSent:
			st.Sent++
		case model.StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

// Approve marks pending rows approved and returns how many changed.
func (s *ScheduleService) Approve(ctx context.Context, ids []string) (int, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, appErrors.NewInvalidRequest("ids", "at least one id is required")
	}
	n, err := s.Schedules.Approve(ctx, ids, s.Now())
	if err != nil {
		return 0, err
	}
	s.Log.Info().Int("count", n).Int("requested", len(ids)).Msg("schedules approved")
	return n, nil
}

func (s *ScheduleService) Retry(ctx context.Context, id string) (*model.Schedule, error) {
	if s.Retrier == nil {
		return nil, errors.New("retry is not configured")
	}
	return s.Retrier.Retry(ctx, id)
}

// DeleteSchedules cancels the pending, unclaimed rows among ids. Every
// other id is reported as skipped.
func (s *ScheduleService) DeleteSchedules(ctx context.Context, ids []string) (*DeleteResult, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, appErrors.NewInvalidRequest("ids", "at least one id is required")
	}
	deleted, err := s.Schedules.DeletePending(ctx, ids, s.Now())
	if err != nil {
		return nil, err
	}
	gone := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
	}
	result := &DeleteResult{Deleted: deleted, Skipped: []string{}}
	for _, id := range ids {
		if !gone[id] {
			result.Skipped = append(result.Skipped, id)
		}
	}
	s.Log.Info().Int("count", len(deleted)).Int("skipped", len(result.Skipped)).Msg("schedules cancelled")
	return result, nil
}

// Remaining reports the quota of resourceID on date (YYYY-MM-DD); an empty
// date means today.
func (s *ScheduleService) Remaining(ctx context.Context, resourceID, date string) (*RemainingQuota, error) {
	if date == "" {
		date = DayKey(s.Now(), s.Location)
	} else if _, err := time.ParseInLocation(dayLayout, date, s.Location); err != nil {
		return nil, appErrors.NewInvalidRequest("date", "expected YYYY-MM-DD")
	}
	res, err := s.Resources.GetByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	committed, err := s.Schedules.Committed(ctx, res.ID, date)
	if err != nil {
		return nil, err
	}
	q := &RemainingQuota{ResourceID: res.ID, Date: date, Committed: committed}
	if PolicyFor(res).Unbounded {
		return q, nil
	}
	alloc := &QuotaAllocator{Counter: s.Schedules}
	left, err := alloc.Remaining(ctx, res, date)
	if err != nil {
		return nil, err
	}
	q.DailyLimit = res.DailyLimit
	q.Remaining = &left
	return q, nil
}
