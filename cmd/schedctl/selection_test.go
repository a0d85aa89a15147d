package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

func testView() *service.GroupedView {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	next := at.AddDate(0, 0, 1)
	row := func(id, campaign string, t time.Time, st model.ScheduleStatus) *model.Schedule {
		return &model.Schedule{ID: id, CampaignID: campaign, ScheduledFor: t, ScheduledDay: t.Format("2006-01-02"), Status: st}
	}
	rows := []*model.Schedule{
		row("a1", "camp-a", at, model.StatusPending),
		row("a2", "camp-a", at, model.StatusPending),
		row("a3", "camp-a", at, model.StatusSent),
		row("b1", "", at, model.StatusPending),
		row("a4", "camp-a", next, model.StatusPending),
	}
	return service.Group(rows, time.UTC, map[string]string{"camp-a": "Launch"})
}

func TestSelectIDs(t *testing.T) {
	tests := []struct {
		name string
		args selectArgs
		want string
	}{
		{"nothing", selectArgs{}, ""},
		{"all skips sent rows", selectArgs{All: true}, "a1,a2,b1,a4"},
		{"day", selectArgs{Days: []string{"2026-03-03"}}, "a4"},
		{"group", selectArgs{Groups: []string{"2026-03-02/10:00:00/camp-a"}}, "a1,a2"},
		{"overlapping scopes add up", selectArgs{Groups: []string{"2026-03-02/10:00:00/camp-a"}, IDs: []string{"a1", "b1"}, Days: []string{"2026-03-02"}}, "a1,a2,b1"},
		{"unknown and sent ids ignored", selectArgs{IDs: []string{"zz", "a3"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := selectIDs(testView(), tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if got := strings.Join(ids, ","); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSelectIDsRejectsMalformedGroup(t *testing.T) {
	if _, err := selectIDs(testView(), selectArgs{Groups: []string{"2026-03-02"}}); err == nil {
		t.Errorf("expected an error for a group without time and key")
	}
}

func TestPrintView(t *testing.T) {
	var buf bytes.Buffer
	printView(&buf, testView())
	out := buf.String()
	for _, want := range []string{"2026-03-02/10:00:00/camp-a", "Launch", "mixed", "2026-03-02/10:00:00/individual", "total 5: 4 pending, 1 sent, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printView(&buf, &service.GroupedView{})
	if !strings.Contains(buf.String(), "no schedules found") {
		t.Errorf("unexpected empty output %q", buf.String())
	}
}
