package service

import (
	"sort"
	"time"

	"github.com/unclebandit/outreach-scheduler/internal/model"
)

const slotLayout = "15:04:05"

// StatusCounts tallies member statuses of a group.
type StatusCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

func (c *StatusCounts) add(s model.ScheduleStatus) {
	c.Total++
	switch s {
	case model.StatusPending:
		c.Pending++
	case model.StatusSent:
		c.Sent++
	case model.StatusFailed:
		c.Failed++
	}
}

// Aggregate is "pending", "sent" or "failed" when every member shares that
// status, otherwise "mixed".
func (c StatusCounts) Aggregate() string {
	switch c.Total {
	case 0:
		return "empty"
	case c.Pending:
		return string(model.StatusPending)
	case c.Sent:
		return string(model.StatusSent)
	case c.Failed:
		return string(model.StatusFailed)
	}
	return "mixed"
}

type ScheduleGroup struct {
	Key       string            `json:"key"`
	Kind      string            `json:"kind"`
	Name      string            `json:"name,omitempty"`
	Status    string            `json:"status"`
	Counts    StatusCounts      `json:"counts"`
	Schedules []*model.Schedule `json:"schedules"`
}

type TimeSlot struct {
	Time   string           `json:"time"`
	Groups []*ScheduleGroup `json:"groups"`
}

type DayGroup struct {
	Date   string       `json:"date"`
	Counts StatusCounts `json:"counts"`
	Slots  []*TimeSlot  `json:"slots"`
}

// GroupedView nests schedules by day, then exact time of day, then
// campaign, segment or "individual".
type GroupedView struct {
	Days   []*DayGroup  `json:"days"`
	Counts StatusCounts `json:"counts"`
}

// Group builds the view. Days and slots are chronological; groups keep the
// order in which they first appear in rows. names labels group keys.
func Group(rows []*model.Schedule, loc *time.Location, names map[string]string) *GroupedView {
	if loc == nil {
		loc = time.UTC
	}
	view := &GroupedView{Days: []*DayGroup{}}
	days := map[string]*DayGroup{}
	slots := map[[2]string]*TimeSlot{}
	groups := map[[3]string]*ScheduleGroup{}

	for _, s := range rows {
		local := s.ScheduledFor.In(loc)
		date := s.ScheduledDay
		if date == "" {
			date = local.Format(dayLayout)
		}
		clock := local.Format(slotLayout)
		key := s.GroupKey()

		d, ok := days[date]
		if !ok {
			d = &DayGroup{Date: date, Slots: []*TimeSlot{}}
			days[date] = d
			view.Days = append(view.Days, d)
		}
		sl, ok := slots[[2]string{date, clock}]
		if !ok {
			sl = &TimeSlot{Time: clock, Groups: []*ScheduleGroup{}}
			slots[[2]string{date, clock}] = sl
			d.Slots = append(d.Slots, sl)
		}
		g, ok := groups[[3]string{date, clock, key}]
		if !ok {
			g = &ScheduleGroup{Key: key, Kind: groupKind(s), Name: names[key]}
			groups[[3]string{date, clock, key}] = g
			sl.Groups = append(sl.Groups, g)
		}

		g.Schedules = append(g.Schedules, s)
		g.Counts.add(s.Status)
		d.Counts.add(s.Status)
		view.Counts.add(s.Status)
	}

	sort.SliceStable(view.Days, func(i, j int) bool { return view.Days[i].Date < view.Days[j].Date })
	for _, d := range view.Days {
		sort.SliceStable(d.Slots, func(i, j int) bool { return d.Slots[i].Time < d.Slots[j].Time })
		for _, sl := range d.Slots {
			for _, g := range sl.Groups {
				g.Status = g.Counts.Aggregate()
			}
		}
	}
	return view
}

func groupKind(s *model.Schedule) string {
	switch {
	case s.CampaignID != "":
		return "campaign"
	case s.SegmentID != "":
		return "segment"
	}
	return "individual"
}
