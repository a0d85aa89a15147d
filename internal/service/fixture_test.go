package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

var ulaanbaatar = time.FixedZone("ULAT", 8*3600)

// day1 is 10:00 local time on the first scheduling day.
var day1 = time.Date(2026, 3, 2, 10, 0, 0, 0, ulaanbaatar)

type mockDirectory struct {
	customers map[string]model.Customer
	campaigns map[string][]string
	segments  map[string][]string
	names     map[string]string
}

func (m *mockDirectory) list(ids []string) []model.Customer {
	out := make([]model.Customer, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.customers[id])
	}
	return out
}

func (m *mockDirectory) Audience(ctx context.Context, id string) ([]model.Customer, error) {
	ids, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return m.list(ids), nil
}

func (m *mockDirectory) Membership(ctx context.Context, id string) ([]model.Customer, error) {
	ids, ok := m.segments[id]
	if !ok {
		return nil, appErrors.NewSegmentNotFound(id)
	}
	return m.list(ids), nil
}

func (m *mockDirectory) Customers(ctx context.Context, ids []string) ([]model.Customer, error) {
	for _, id := range ids {
		if _, ok := m.customers[id]; !ok {
			return nil, appErrors.NewNotFound("customer", id)
		}
	}
	return m.list(ids), nil
}

func (m *mockDirectory) GroupNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := map[string]string{}
	for _, id := range ids {
		if n, ok := m.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type mockTemplates map[string]*model.Template

func (m mockTemplates) GetByID(ctx context.Context, id string) (*model.Template, error) {
	t, ok := m[id]
	if !ok {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	return t, nil
}

type mockResources struct {
	mu   sync.Mutex
	byID map[string]*model.SendingResource
}

func (m *mockResources) GetByID(ctx context.Context, id string) (*model.SendingResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, appErrors.NewResourceNotFound(id)
	}
	cp := *r
	return &cp, nil
}

func (m *mockResources) Active(ctx context.Context, ch model.Channel) (*model.SendingResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if r := m.byID[id]; r.Channel == ch && r.Active {
			cp := *r
			return &cp, nil
		}
	}
	return nil, appErrors.NewNotFound("active resource", string(ch))
}

func (m *mockResources) SetActive(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return appErrors.NewResourceNotFound(id)
	}
	for _, other := range m.byID {
		if other.Channel == r.Channel {
			other.Active = false
		}
	}
	r.Active = true
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fixture struct {
	dir       *mockDirectory
	templates mockTemplates
	resources *mockResources
	store     *repository.MemoryScheduleRepository
	clock     *clock
	svc       *service.ScheduleService
}

func intPtr(n int) *int { return &n }

// newFixture builds 25 customers c01..c25 with email and phone, campaign
// camp-a holding all of them, and an email account limited to emailLimit
// per day.
func newFixture(t *testing.T, emailLimit int) *fixture {
	t.Helper()
	dir := &mockDirectory{
		customers: map[string]model.Customer{},
		campaigns: map[string][]string{},
		segments:  map[string][]string{},
		names:     map[string]string{"camp-a": "Spring sale", "seg-b": "VIP"},
	}
	var all []string
	for i := 1; i <= 25; i++ {
		id := fmt.Sprintf("c%02d", i)
		dir.customers[id] = model.Customer{ID: id, Email: id + "@example.com", Phone: fmt.Sprintf("+9769900%02d", i)}
		all = append(all, id)
	}
	dir.campaigns["camp-a"] = all
	dir.segments["seg-b"] = all[:5]

	f := &fixture{
		dir: dir,
		templates: mockTemplates{
			"tpl-email": {ID: "tpl-email", Channel: model.ChannelEmail, Subject: "Hello", Body: "Body"},
			"tpl-sms":   {ID: "tpl-sms", Channel: model.ChannelSMS, Body: "Hi"},
			"tpl-voice": {ID: "tpl-voice", Channel: model.ChannelVoice, AudioReference: "https://cdn/a.mp3"},
		},
		resources: &mockResources{byID: map[string]*model.SendingResource{
			"acct-1": {ID: "acct-1", Channel: model.ChannelEmail, Address: "news@example.com", DailyLimit: intPtr(emailLimit), Active: true},
			"acct-2": {ID: "acct-2", Channel: model.ChannelEmail, Address: "promo@example.com", DailyLimit: intPtr(100)},
			"num-1":  {ID: "num-1", Channel: model.ChannelSMS, Address: "+97611", DailyLimit: intPtr(3), Active: true},
			"line-1": {ID: "line-1", Channel: model.ChannelVoice, Address: "+97622", Active: true},
		}},
		store: repository.NewMemoryScheduleRepository(),
		clock: &clock{t: day1},
	}
	seq := 0
	var seqMu sync.Mutex
	f.svc = service.NewScheduleService(service.ScheduleService{
		Schedules:     f.store,
		Directory:     f.dir,
		Templates:     f.templates,
		Resources:     f.resources,
		Location:      ulaanbaatar,
		LookaheadDays: 10,
		Now:           f.clock.Now,
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("s%04d", seq)
		},
		Log: zerolog.Nop(),
	})
	return f
}

func (f *fixture) rows(t *testing.T) []*model.Schedule {
	t.Helper()
	rows, err := f.store.List(context.Background(), model.ScheduleFilter{})
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func recipients(n int) []model.Recipient {
	out := make([]model.Recipient, n)
	for i := range out {
		id := fmt.Sprintf("c%02d", i+1)
		out[i] = model.Recipient{ID: id + ":email", CustomerID: id, Channel: model.ChannelEmail, Address: id + "@example.com"}
	}
	return out
}
