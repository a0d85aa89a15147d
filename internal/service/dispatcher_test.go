package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-scheduler/internal/channel"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/queue"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

type fakeAdapter struct {
	mu    sync.Mutex
	calls map[string]int
	from  map[string]string
	block map[string]bool
	fail  map[string]error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{calls: map[string]int{}, from: map[string]string{}, block: map[string]bool{}, fail: map[string]error{}}
}

func (f *fakeAdapter) Supports(model.Channel) bool { return true }

func (f *fakeAdapter) Send(ctx context.Context, msg channel.Message) error {
	f.mu.Lock()
	f.calls[msg.ScheduleID]++
	f.from[msg.ScheduleID] = msg.From
	block, err := f.block[msg.Address], f.fail[msg.Address]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeAdapter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func newDispatcher(f *fixture, a channel.Adapter, gate service.ChannelGate) *service.Dispatcher {
	return service.NewDispatcher(service.Dispatcher{
		Schedules:   f.store,
		Templates:   f.templates,
		Resources:   f.resources,
		Adapter:     a,
		Gate:        gate,
		WorkerID:    "w1",
		Lease:       time.Minute,
		SendTimeout: 50 * time.Millisecond,
		Now:         f.clock.Now,
		Log:         zerolog.Nop(),
	})
}

func createCampaign(t *testing.T, f *fixture) []string {
	t.Helper()
	res, err := f.svc.CreateSchedules(context.Background(), emailCampaign())
	if err != nil {
		t.Fatal(err)
	}
	return res.ScheduleIDs
}

func TestPollSendsDueSchedules(t *testing.T) {
	f := newFixture(t, 10)
	ids := createCampaign(t, f)
	a := newFakeAdapter()
	d := newDispatcher(f, a, nil)

	res, err := d.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Due != 10 || res.Sent != 10 || res.Failed != 0 {
		t.Fatalf("unexpected poll %+v", res)
	}
	if a.from[ids[0]] != "news@example.com" {
		t.Errorf("expected the resource address as sender, got %q", a.from[ids[0]])
	}

	st, _ := f.svc.Stats(context.Background(), model.ScheduleFilter{})
	if st.Sent != 10 || st.Pending != 15 {
		t.Errorf("future days must stay pending, got %+v", st)
	}

	res, _ = d.Poll(context.Background())
	if res.Due != 0 || a.total() != 10 {
		t.Errorf("a second poll must not resend, got %+v after %d sends", res, a.total())
	}
}

func TestDispatchTimeoutFailsOnlyThatJob(t *testing.T) {
	f := newFixture(t, 10)
	ids := createCampaign(t, f)
	a := newFakeAdapter()
	a.block["c02@example.com"] = true
	d := newDispatcher(f, a, nil)

	res, err := d.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 9 || res.Failed != 1 {
		t.Fatalf("expected 9 sent and 1 failed, got %+v", res)
	}

	ctx := context.Background()
	failed, _ := f.store.GetByID(ctx, ids[1])
	if failed.Status != model.StatusFailed || failed.LastError == "" || failed.Attempts != 1 || failed.ClaimedBy != "" {
		t.Fatalf("unexpected failed row %+v", failed)
	}
	sibling, _ := f.store.GetByID(ctx, ids[2])
	if sibling.Status != model.StatusSent {
		t.Errorf("sibling should be sent, got %s", sibling.Status)
	}

	a.mu.Lock()
	a.block["c02@example.com"] = false
	a.mu.Unlock()

	row, err := d.Retry(ctx, ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if row.ID != ids[1] || row.Status != model.StatusSent || row.Attempts != 2 || row.LastError != "" {
		t.Errorf("retry should succeed on the same row, got %+v", row)
	}
	if n := len(f.rows(t)); n != 25 {
		t.Errorf("retry must not add rows, have %d", n)
	}
}

func TestRetryRejectsNonFailed(t *testing.T) {
	f := newFixture(t, 10)
	ids := createCampaign(t, f)
	a := newFakeAdapter()
	d := newDispatcher(f, a, nil)
	ctx := context.Background()

	if err := d.Dispatch(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	var nr *appErrors.ErrNotRetriable
	if _, err := d.Retry(ctx, ids[0]); !errors.As(err, &nr) || nr.Status != "sent" {
		t.Errorf("retry of a sent job must be rejected, got %v", err)
	}
	if _, err := d.Retry(ctx, ids[1]); !errors.As(err, &nr) {
		t.Errorf("retry of a pending job must be rejected, got %v", err)
	}
	if a.total() != 1 {
		t.Errorf("rejected retries must not send, got %d sends", a.total())
	}
	if _, err := d.Retry(ctx, "ghost"); !appErrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAdapterErrorIsRecorded(t *testing.T) {
	f := newFixture(t, 10)
	ids := createCampaign(t, f)
	a := newFakeAdapter()
	a.fail["c01@example.com"] = errors.New("550 mailbox unavailable")
	d := newDispatcher(f, a, nil)

	if err := d.Dispatch(context.Background(), ids[0]); err != nil {
		t.Fatalf("adapter errors are recorded, not returned: %v", err)
	}
	row, _ := f.store.GetByID(context.Background(), ids[0])
	if row.Status != model.StatusFailed || !strings.Contains(row.LastError, "550") {
		t.Errorf("unexpected row %+v", row)
	}
}

func TestInvalidAddressFails(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	_, err := f.store.Commit(ctx, "acct-1", func(ctx context.Context, _ repository.CommitCounter) ([]*model.Schedule, error) {
		return []*model.Schedule{{
			ID: "blank", Channel: model.ChannelEmail, TemplateID: "tpl-email", CustomerID: "c01",
			ResourceID: "acct-1", ScheduledFor: day1, ScheduledDay: "2026-03-02", Status: model.StatusPending,
		}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	a := newFakeAdapter()
	if err := newDispatcher(f, a, nil).Dispatch(ctx, "blank"); err != nil {
		t.Fatal(err)
	}
	row, _ := f.store.GetByID(ctx, "blank")
	if row.Status != model.StatusFailed || a.total() != 0 {
		t.Errorf("expected failure without a send, got %s after %d sends", row.Status, a.total())
	}
}

func TestClaimConflictIsSilent(t *testing.T) {
	f := newFixture(t, 10)
	ids := createCampaign(t, f)
	ctx := context.Background()
	if _, err := f.store.Claim(ctx, ids[0], model.StatusPending, "other", day1, day1.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	a := newFakeAdapter()
	if err := newDispatcher(f, a, nil).Dispatch(ctx, ids[0]); err != nil {
		t.Fatalf("losing a claim race is not an error: %v", err)
	}
	row, _ := f.store.GetByID(ctx, ids[0])
	if a.total() != 0 || row.Status != model.StatusPending || row.ClaimedBy != "other" {
		t.Errorf("row should be untouched, got %+v after %d sends", row, a.total())
	}
}

func TestExpiredLeaseIsRecovered(t *testing.T) {
	f := newFixture(t, 10)
	ids := createCampaign(t, f)
	ctx := context.Background()
	if _, err := f.store.Claim(ctx, ids[0], model.StatusPending, "crashed", day1, day1.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	a := newFakeAdapter()
	d := newDispatcher(f, a, nil)

	if res, _ := d.Poll(ctx); res.Due != 9 {
		t.Fatalf("leased row should not be due yet, got %+v", res)
	}
	f.clock.Set(day1.Add(2 * time.Minute))
	res, _ := d.Poll(ctx)
	if res.Due != 1 || res.Sent != 1 {
		t.Fatalf("expired lease should be reclaimed, got %+v", res)
	}
	row, _ := f.store.GetByID(ctx, ids[0])
	if row.Status != model.StatusSent {
		t.Errorf("expected sent, got %s", row.Status)
	}
}

func TestApprovalGatesDispatch(t *testing.T) {
	f := newFixture(t, 10)
	ids := createCampaign(t, f)
	gate, err := service.NewChannelApproval([]string{"email"})
	if err != nil {
		t.Fatal(err)
	}
	a := newFakeAdapter()
	d := newDispatcher(f, a, gate)
	ctx := context.Background()

	if res, _ := d.Poll(ctx); res.Due != 0 {
		t.Fatalf("unapproved rows must not be due, got %+v", res)
	}
	if err := d.Dispatch(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	row, _ := f.store.GetByID(ctx, ids[0])
	if row.Status != model.StatusPending || row.ClaimedBy != "" || a.total() != 0 {
		t.Fatalf("unapproved dispatch should release the claim, got %+v", row)
	}

	if _, err := f.svc.Approve(ctx, ids[:3]); err != nil {
		t.Fatal(err)
	}
	res, _ := d.Poll(ctx)
	if res.Sent != 3 {
		t.Errorf("expected the 3 approved rows sent, got %+v", res)
	}
}

func TestPollThroughQueue(t *testing.T) {
	f := newFixture(t, 10)
	createCampaign(t, f)
	ctx := context.Background()

	q := queue.NewInMemoryQueue(zerolog.Nop())
	d := newDispatcher(f, newFakeAdapter(), nil)
	d.Queue = q
	if err := queue.StartDispatchSubscriber(ctx, q, d.Topic, d.Parallelism, d, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}

	res, err := d.Poll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Enqueued != 10 {
		t.Fatalf("expected 10 jobs enqueued, got %+v", res)
	}
	q.Wait()
	st, _ := f.svc.Stats(ctx, model.ScheduleFilter{})
	if st.Sent != 10 {
		t.Errorf("expected queue workers to send 10, got %+v", st)
	}
}

// slowPacer hands out one token per interval to one caller at a time.
type slowPacer struct {
	mu       sync.Mutex
	interval time.Duration
}

func (p *slowPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-time.After(p.interval):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type trackingAdapter struct {
	*fakeAdapter
	mu         sync.Mutex
	running    int
	maxRunning int
}

func (a *trackingAdapter) Send(ctx context.Context, msg channel.Message) error {
	a.mu.Lock()
	a.running++
	if a.running > a.maxRunning {
		a.maxRunning = a.running
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running--
		a.mu.Unlock()
	}()
	time.Sleep(5 * time.Millisecond)
	return a.fakeAdapter.Send(ctx, msg)
}

func TestQueueModeSlowPacingDoesNotTimeOut(t *testing.T) {
	f := newFixture(t, 10)
	createCampaign(t, f)
	ctx := context.Background()

	q := queue.NewInMemoryQueue(zerolog.Nop())
	a := &trackingAdapter{fakeAdapter: newFakeAdapter()}
	d := newDispatcher(f, a, nil)
	d.Queue = q
	d.Pacer = &slowPacer{interval: 20 * time.Millisecond}
	d.SendTimeout = 30 * time.Millisecond
	d.Parallelism = 2
	if err := queue.StartDispatchSubscriber(ctx, q, d.Topic, d.Parallelism, d, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}

	if _, err := d.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	q.Wait()

	st, _ := f.svc.Stats(ctx, model.ScheduleFilter{})
	if st.Sent != 10 || st.Failed != 0 {
		t.Errorf("waiting for a send slot must not count against the send timeout, got %+v", st)
	}
	if a.total() != 10 {
		t.Errorf("expected 10 adapter calls, got %d", a.total())
	}
	if a.maxRunning > 2 {
		t.Errorf("expected at most 2 sends in flight, saw %d", a.maxRunning)
	}
}

type recordingQueue struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("broker down")
	}
	q.ids = append(q.ids, payload.(queue.DispatchJob).ScheduleID)
	return nil
}

func (q *recordingQueue) Subscribe(string, func(any) error) error { return nil }

func TestPollDoesNotRepublishQueuedRows(t *testing.T) {
	f := newFixture(t, 10)
	createCampaign(t, f)
	ctx := context.Background()

	q := &recordingQueue{}
	d := newDispatcher(f, newFakeAdapter(), nil)
	d.Queue = q

	res, _ := d.Poll(ctx)
	if res.Enqueued != 10 {
		t.Fatalf("expected 10 jobs enqueued, got %+v", res)
	}
	res, _ = d.Poll(ctx)
	if res.Due != 0 || res.Enqueued != 0 || len(q.ids) != 10 {
		t.Fatalf("queued rows must not be published again, got %+v with %d jobs", res, len(q.ids))
	}

	// A job lost by the broker is picked up once the queued lease lapses.
	f.clock.Set(day1.Add(2 * time.Minute))
	res, _ = d.Poll(ctx)
	if res.Enqueued != 10 || len(q.ids) != 20 {
		t.Errorf("expected the rows republished after the lease, got %+v", res)
	}
}

func TestFailedPublishReleasesQueuedLease(t *testing.T) {
	f := newFixture(t, 10)
	ids := createCampaign(t, f)
	ctx := context.Background()

	q := &recordingQueue{fail: true}
	d := newDispatcher(f, newFakeAdapter(), nil)
	d.Queue = q

	res, _ := d.Poll(ctx)
	if res.Enqueued != 0 {
		t.Fatalf("nothing should be enqueued, got %+v", res)
	}
	row, _ := f.store.GetByID(ctx, ids[0])
	if row.ClaimedBy != "" {
		t.Fatalf("expected queued lease released, got %q", row.ClaimedBy)
	}

	q.fail = false
	res, _ = d.Poll(ctx)
	if res.Enqueued != 10 {
		t.Errorf("expected the next poll to enqueue, got %+v", res)
	}
}

func TestTriggerSendsAdHocRunInline(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := newFakeAdapter()
	d := newDispatcher(f, a, nil)
	f.svc.Trigger = d

	res, err := f.svc.CreateSchedules(ctx, service.CreateRequest{
		Channel:    model.ChannelSMS,
		TemplateID: "tpl-sms",
		GroupRef:   service.GroupRef{CustomerIDs: []string{"c01", "c02"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	d.Drain()

	for _, id := range res.ScheduleIDs {
		row, _ := f.store.GetByID(ctx, id)
		if row.Status != model.StatusSent {
			t.Errorf("ad-hoc row %s should be sent without a poll, got %s", id, row.Status)
		}
	}
	if a.total() != 2 {
		t.Errorf("expected 2 sends, got %d", a.total())
	}
}

func TestTriggerThroughQueueMarksRows(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	q := &recordingQueue{}
	d := newDispatcher(f, newFakeAdapter(), nil)
	d.Queue = q

	ids := createCampaign(t, f)
	if err := d.Trigger(ctx, ids[:3]); err != nil {
		t.Fatal(err)
	}
	if len(q.ids) != 3 {
		t.Fatalf("expected 3 jobs, got %v", q.ids)
	}
	res, _ := d.Poll(ctx)
	if res.Enqueued != 7 {
		t.Errorf("poll should only enqueue the untriggered rows, got %+v", res)
	}
}

func TestEligible(t *testing.T) {
	gate, _ := service.NewChannelApproval([]string{"sms"})
	s := &model.Schedule{Channel: model.ChannelSMS, Status: model.StatusPending, ScheduledFor: day1}
	if service.Eligible(s, gate, day1) {
		t.Errorf("unapproved sms is gated")
	}
	s.Approved = true
	if !service.Eligible(s, gate, day1) {
		t.Errorf("approved sms is eligible")
	}
	if service.Eligible(s, gate, day1.Add(-time.Second)) {
		t.Errorf("future rows are not eligible")
	}
	s.Status = model.StatusFailed
	if service.Eligible(s, gate, day1) {
		t.Errorf("failed rows are retried, not dispatched")
	}
	if _, err := service.NewChannelApproval([]string{"fax"}); err == nil {
		t.Errorf("unknown channel should be rejected")
	}
}
