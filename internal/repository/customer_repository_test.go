package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-scheduler/internal/cache"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

func seed(t *testing.T, conn *sql.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		if _, err := conn.Exec(s); err != nil {
			t.Fatalf("seed %q: %v", s, err)
		}
	}
}

func TestDirectoryAudienceOrder(t *testing.T) {
	conn, d := openSQLite(t)
	seed(t, conn,
		`INSERT INTO customers (id, email, phone) VALUES ('c1', 'a@x.io', ''), ('c2', '', '+97699'), ('c3', 'c@x.io', '+97688')`,
		`INSERT INTO campaigns (id, name) VALUES ('camp', 'Spring')`,
		`INSERT INTO campaign_audiences (campaign_id, customer_id, position) VALUES ('camp', 'c3', 1), ('camp', 'c1', 2), ('camp', 'c2', 3)`,
		`INSERT INTO segments (id, name) VALUES ('seg', 'VIP')`,
	)
	repo := &CustomerRepository{DB: conn, Dialect: d}
	ctx := context.Background()

	got, err := repo.Audience(ctx, "camp")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != "c3" || got[1].ID != "c1" || got[2].ID != "c2" {
		t.Fatalf("audience order not preserved: %+v", got)
	}

	members, err := repo.Membership(ctx, "seg")
	if err != nil || len(members) != 0 {
		t.Fatalf("expected empty segment, got %v (%v)", members, err)
	}

	if _, err := repo.Audience(ctx, "nope"); !appErrors.IsNotFound(err) {
		t.Errorf("expected campaign not found, got %v", err)
	}
	if _, err := repo.Membership(ctx, "nope"); !appErrors.IsNotFound(err) {
		t.Errorf("expected segment not found, got %v", err)
	}

	custs, err := repo.Customers(ctx, []string{"c2", "c1"})
	if err != nil || len(custs) != 2 || custs[0].ID != "c2" {
		t.Fatalf("customers lookup: %v %v", custs, err)
	}
	if _, err := repo.Customers(ctx, []string{"c1", "ghost"}); !appErrors.IsNotFound(err) {
		t.Errorf("expected customer not found, got %v", err)
	}

	names, err := repo.GroupNames(ctx, []string{"camp", "seg", "individual"})
	if err != nil {
		t.Fatal(err)
	}
	if names["camp"] != "Spring" || names["seg"] != "VIP" || len(names) != 2 {
		t.Errorf("unexpected names %v", names)
	}
}

func TestResourceActiveSwitch(t *testing.T) {
	conn, d := openSQLite(t)
	seed(t, conn,
		`INSERT INTO sending_resources (id, channel, address, daily_limit, active) VALUES
			('acct-1', 'email', 'one@x.io', 10, TRUE),
			('acct-2', 'email', 'two@x.io', 20, FALSE),
			('line-1', 'voice', '+97611', NULL, TRUE)`,
	)
	repo := &ResourceRepository{DB: conn, Dialect: d}
	ctx := context.Background()

	res, err := repo.Active(ctx, model.ChannelEmail)
	if err != nil || res.ID != "acct-1" || *res.DailyLimit != 10 {
		t.Fatalf("unexpected active resource %+v (%v)", res, err)
	}
	if err := repo.SetActive(ctx, "acct-2"); err != nil {
		t.Fatal(err)
	}
	res, _ = repo.Active(ctx, model.ChannelEmail)
	if res.ID != "acct-2" {
		t.Errorf("expected acct-2 active, got %s", res.ID)
	}
	line, _ := repo.Active(ctx, model.ChannelVoice)
	if line == nil || !line.Unbounded() {
		t.Errorf("voice line should stay active and unbounded, got %+v", line)
	}
	if _, err := repo.Active(ctx, model.ChannelSMS); !appErrors.IsNotFound(err) {
		t.Errorf("expected no active sms resource, got %v", err)
	}
	if err := repo.SetActive(ctx, "ghost"); !appErrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

type mockCache struct {
	items  map[string]*model.Template
	getErr error
	sets   int
}

func (m *mockCache) Get(ctx context.Context, id string) (*model.Template, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.items[id], nil
}

func (m *mockCache) Set(ctx context.Context, t *model.Template) error {
	m.sets++
	m.items[t.ID] = t
	return nil
}

func (m *mockCache) Delete(ctx context.Context, id string) error {
	delete(m.items, id)
	return nil
}

type countingTemplates struct {
	calls int
}

func (c *countingTemplates) GetByID(ctx context.Context, id string) (*model.Template, error) {
	c.calls++
	if id != "tpl-1" {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	return &model.Template{ID: id, Channel: model.ChannelEmail, Subject: "Hi", Body: "Body"}, nil
}

func TestCachedTemplateRepository(t *testing.T) {
	store := &countingTemplates{}
	mc := &mockCache{items: map[string]*model.Template{}}
	repo := &CachedTemplateRepository{Store: store, Cache: mc, Log: zerolog.Nop()}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.GetByID(ctx, "tpl-1"); err != nil {
			t.Fatal(err)
		}
	}
	if store.calls != 1 || mc.sets != 1 {
		t.Errorf("expected one store read and one cache fill, got %d/%d", store.calls, mc.sets)
	}

	mc.getErr = errors.New("redis down")
	if _, err := repo.GetByID(ctx, "tpl-1"); err != nil {
		t.Fatalf("cache failure must fall back to the store: %v", err)
	}
	if store.calls != 2 {
		t.Errorf("expected store fallback, got %d calls", store.calls)
	}

	if _, err := repo.GetByID(ctx, "missing"); !appErrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTemplateRepositorySQL(t *testing.T) {
	conn, d := openSQLite(t)
	seed(t, conn, `INSERT INTO templates (id, channel, subject, body, audio_url) VALUES ('tpl-v', 'voice', '', '', 'https://cdn/x.mp3')`)
	repo := &CachedTemplateRepository{Store: &TemplateRepository{DB: conn, Dialect: d}, Cache: cache.NoOpCache{}, Log: zerolog.Nop()}

	tpl, err := repo.GetByID(context.Background(), "tpl-v")
	if err != nil || tpl.AudioReference != "https://cdn/x.mp3" || tpl.Channel != model.ChannelVoice {
		t.Fatalf("unexpected template %+v (%v)", tpl, err)
	}
}

type fakeNameRows struct {
	rows   [][2]string
	err    error
	closed bool
}

func (f *fakeNameRows) Next() bool { return len(f.rows) > 0 }

func (f *fakeNameRows) Scan(dest ...any) error {
	*dest[0].(*string), *dest[1].(*string) = f.rows[0][0], f.rows[0][1]
	f.rows = f.rows[1:]
	return nil
}

func (f *fakeNameRows) Err() error   { return f.err }
func (f *fakeNameRows) Close() error { f.closed = true; return nil }

func TestScanNamesReportsIterationError(t *testing.T) {
	broken := errors.New("connection reset")
	rows := &fakeNameRows{rows: [][2]string{{"camp-1", "Launch"}}, err: broken}
	names := map[string]string{}
	if err := scanNames(rows, names); !errors.Is(err, broken) {
		t.Fatalf("expected iteration error, got %v", err)
	}
	if !rows.closed {
		t.Errorf("rows must be closed")
	}

	rows = &fakeNameRows{rows: [][2]string{{"camp-1", "Launch"}, {"seg-1", "VIP"}}}
	if err := scanNames(rows, names); err != nil || names["seg-1"] != "VIP" {
		t.Errorf("unexpected result %v %v", err, names)
	}
}
