package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-scheduler/internal/channel"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/queue"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

// Dispatcher delivers due schedules through the channel adapter. Each
// attempt runs under a claim lease so that one schedule is never in flight
// on two workers, and a crashed worker's lease simply expires.
type Dispatcher struct {
	Schedules repository.ScheduleRepositoryInterface
	Templates repository.TemplateRepositoryInterface
	Resources repository.ResourceRepositoryInterface
	Adapter   channel.Adapter
	// Pacer, when set, is waited on before a schedule is claimed, so the
	// send timeout only covers the adapter call.
	Pacer channel.Pacer
	Gate  ChannelGate

	// Queue, when set, makes Poll publish due ids instead of sending inline.
	Queue queue.Queue
	Topic string

	WorkerID    string
	Lease       time.Duration
	SendTimeout time.Duration
	BatchSize   int
	Parallelism int
	Now         func() time.Time
	Log         zerolog.Logger

	background *sync.WaitGroup
}

// NewDispatcher fills unset tuning fields with defaults.
func NewDispatcher(d Dispatcher) *Dispatcher {
	if d.WorkerID == "" {
		d.WorkerID = "dispatcher"
	}
	if d.Lease <= 0 {
		d.Lease = 2 * time.Minute
	}
	if d.SendTimeout <= 0 || d.SendTimeout >= d.Lease {
		d.SendTimeout = d.Lease / 2
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 200
	}
	if d.Parallelism <= 0 {
		d.Parallelism = 8
	}
	if d.Topic == "" {
		d.Topic = "schedule_dispatch"
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Gate == nil {
		d.Gate = &ChannelApproval{}
	}
	d.background = &sync.WaitGroup{}
	return &d
}

type PollResult struct {
	Due      int `json:"due"`
	Enqueued int `json:"enqueued"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Poll picks up due schedules once. Per-schedule errors are logged and do
// not stop the other schedules.
func (d *Dispatcher) Poll(ctx context.Context) (PollResult, error) {
	var res PollResult
	due, err := d.Schedules.ListDue(ctx, d.Now(), d.BatchSize, d.Gate.Channels())
	if err != nil {
		return res, fmt.Errorf("list due schedules: %w", err)
	}
	res.Due = len(due)

	ids := make([]string, len(due))
	for i, s := range due {
		ids[i] = s.ID
	}

	if d.Queue != nil {
		res.Enqueued, err = d.enqueue(ctx, ids)
		d.logPoll(res)
		return res, err
	}

	res = d.dispatchAll(ctx, ids)
	res.Due = len(due)
	d.logPoll(res)
	return res, ctx.Err()
}

// Trigger starts delivery of ids now instead of at the next poll. Without a
// queue the sends run in the background; Drain waits for them.
func (d *Dispatcher) Trigger(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if d.Queue != nil {
		_, err := d.enqueue(ctx, ids)
		return err
	}
	d.background.Add(1)
	go func() {
		defer d.background.Done()
		d.dispatchAll(context.WithoutCancel(ctx), ids)
	}()
	return nil
}

// Drain blocks until background sends started by Trigger are done.
func (d *Dispatcher) Drain() {
	if d.background != nil {
		d.background.Wait()
	}
}

// enqueue publishes the ids it could mark queued. A queued lease keeps the
// next polls from publishing the same rows while they wait in the queue.
func (d *Dispatcher) enqueue(ctx context.Context, ids []string) (int, error) {
	now := d.Now()
	marked, err := d.Schedules.MarkQueued(ctx, ids, now, now.Add(d.Lease))
	if err != nil {
		return 0, fmt.Errorf("mark queued: %w", err)
	}
	n := 0
	for _, id := range marked {
		if err := d.Queue.Publish(d.Topic, queue.DispatchJob{ScheduleID: id}); err != nil {
			d.Log.Error().Err(err).Str("schedule_id", id).Msg("enqueue failed")
			if err := d.Schedules.Release(context.WithoutCancel(ctx), id, model.QueuedBy); err != nil {
				d.Log.Error().Err(err).Str("schedule_id", id).Msg("release queued lease")
			}
			continue
		}
		n++
	}
	return n, nil
}

// dispatchAll delivers ids inline, at most Parallelism at a time.
func (d *Dispatcher) dispatchAll(ctx context.Context, ids []string) PollResult {
	var sent, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Parallelism)
	for _, id := range ids {
		g.Go(func() error {
			row, err := d.dispatch(gctx, id)
			switch {
			case err != nil:
				if gctx.Err() == nil {
					d.Log.Error().Err(err).Str("schedule_id", id).Msg("dispatch error")
				}
				skipped.Add(1)
			case row == nil:
				skipped.Add(1)
			case row.Status == model.StatusSent:
				sent.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return PollResult{Due: len(ids), Sent: int(sent.Load()), Failed: int(failed.Load()), Skipped: int(skipped.Load())}
}

func (d *Dispatcher) logPoll(res PollResult) {
	if res.Due == 0 {
		return
	}
	d.Log.Info().
		Str("worker", d.WorkerID).
		Int("due", res.Due).
		Int("enqueued", res.Enqueued).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("dispatch poll")
}

// Dispatch delivers one pending schedule if it is still eligible. Losing a
// claim race is not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) error {
	_, err := d.dispatch(ctx, id)
	return err
}

// dispatch returns the completed row, or nil when nothing was attempted.
func (d *Dispatcher) dispatch(ctx context.Context, id string) (*model.Schedule, error) {
	if err := d.pace(ctx); err != nil {
		return nil, err
	}
	now := d.Now()
	s, err := d.Schedules.Claim(ctx, id, model.StatusPending, d.WorkerID, now, now.Add(d.Lease))
	if errors.Is(err, appErrors.ErrClaimConflict) {
		d.Log.Debug().Str("schedule_id", id).Str("worker", d.WorkerID).Msg("claimed elsewhere, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !Eligible(s, d.Gate, now) {
		d.Log.Debug().Str("schedule_id", id).Bool("approved", s.Approved).Msg("not eligible, releasing")
		return nil, d.Schedules.Release(context.WithoutCancel(ctx), id, d.WorkerID)
	}
	return d.deliver(ctx, s)
}

// Retry re-attempts a failed schedule on the same row.
func (d *Dispatcher) Retry(ctx context.Context, id string) (*model.Schedule, error) {
	s, err := d.Schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != model.StatusFailed {
		return nil, appErrors.NewNotRetriable(id, string(s.Status))
	}
	if err := d.pace(ctx); err != nil {
		return nil, err
	}
	now := d.Now()
	s, err = d.Schedules.Claim(ctx, id, model.StatusFailed, d.WorkerID, now, now.Add(d.Lease))
	if err != nil {
		return nil, err
	}
	row, err := d.deliver(ctx, s)
	if err == nil && row == nil {
		return nil, appErrors.ErrClaimLost
	}
	return row, err
}

func (d *Dispatcher) pace(ctx context.Context) error {
	if d.Pacer == nil {
		return nil
	}
	return d.Pacer.Wait(ctx)
}

func (d *Dispatcher) deliver(ctx context.Context, s *model.Schedule) (*model.Schedule, error) {
	out := model.Outcome{Status: model.StatusSent}
	if err := d.send(ctx, s); err != nil {
		out.Status = model.StatusFailed
		out.Error = err.Error()
	}
	out.At = d.Now()

	row, err := d.Schedules.Complete(context.WithoutCancel(ctx), s.ID, d.WorkerID, out)
	if errors.Is(err, appErrors.ErrClaimLost) {
		d.Log.Warn().Str("schedule_id", s.ID).Str("worker", d.WorkerID).Msg("claim lost before completion")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record outcome of %s: %w", s.ID, err)
	}

	ev := d.Log.Debug()
	if out.Status == model.StatusFailed {
		ev = d.Log.Warn().Str("err", out.Error)
	}
	ev.Str("schedule_id", s.ID).
		Str("channel", s.Channel.String()).
		Str("resource_id", s.ResourceID).
		Int("attempts", row.Attempts).
		Msg("dispatch " + string(out.Status))
	return row, nil
}

func (d *Dispatcher) send(ctx context.Context, s *model.Schedule) error {
	if s.Address == "" {
		return fmt.Errorf("invalid address for %s", s.Channel)
	}
	tpl, err := d.Templates.GetByID(ctx, s.TemplateID)
	if err != nil {
		return fmt.Errorf("template %s: %w", s.TemplateID, err)
	}
	from := s.ResourceID
	if d.Resources != nil {
		if res, err := d.Resources.GetByID(ctx, s.ResourceID); err == nil {
			from = res.Address
		}
	}
	msg := channel.Message{
		ScheduleID: s.ID,
		Channel:    s.Channel,
		From:       from,
		Address:    s.Address,
		CustomerID: s.CustomerID,
		Template:   tpl,
	}
	return channel.WithTimeout(d.Adapter, d.SendTimeout).Send(ctx, msg)
}

// StartPoller runs Poll on the cron spec until ctx is done. A poll still
// running when the next tick fires makes that tick a no-op.
func (d *Dispatcher) StartPoller(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := d.Poll(ctx); err != nil && ctx.Err() == nil {
			d.Log.Error().Err(err).Msg("dispatch poll failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch schedule %q: %w", spec, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}

var (
	_ Retrier          = (*Dispatcher)(nil)
	_ queue.Dispatcher = (*Dispatcher)(nil)
)
