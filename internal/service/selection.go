package service

import "github.com/unclebandit/outreach-scheduler/internal/model"

type SelectState int

const (
	SelectNone SelectState = iota
	SelectPartial
	SelectAll
)

// Selection is the bulk-action selection over a GroupedView. Only the
// selected row ids are stored; day, group and "all" states are derived from
// them on every call. Rows that left pending cannot be selected.
type Selection struct {
	view     *GroupedView
	selected map[string]bool
}

func NewSelection(view *GroupedView) *Selection {
	return &Selection{view: view, selected: map[string]bool{}}
}

func (s *Selection) ToggleRow(id string) {
	for _, row := range s.rows(func(*DayGroup, *TimeSlot, *ScheduleGroup) bool { return true }) {
		if row.ID == id {
			s.toggle([]*model.Schedule{row})
			return
		}
	}
}

func (s *Selection) ToggleGroup(date, clock, key string) {
	s.toggle(s.rows(func(d *DayGroup, sl *TimeSlot, g *ScheduleGroup) bool {
		return d.Date == date && sl.Time == clock && g.Key == key
	}))
}

func (s *Selection) ToggleDay(date string) {
	s.toggle(s.rows(func(d *DayGroup, _ *TimeSlot, _ *ScheduleGroup) bool { return d.Date == date }))
}

func (s *Selection) ToggleAll() {
	s.toggle(s.rows(func(*DayGroup, *TimeSlot, *ScheduleGroup) bool { return true }))
}

func (s *Selection) GroupState(date, clock, key string) SelectState {
	return s.state(s.rows(func(d *DayGroup, sl *TimeSlot, g *ScheduleGroup) bool {
		return d.Date == date && sl.Time == clock && g.Key == key
	}))
}

func (s *Selection) DayState(date string) SelectState {
	return s.state(s.rows(func(d *DayGroup, _ *TimeSlot, _ *ScheduleGroup) bool { return d.Date == date }))
}

func (s *Selection) AllState() SelectState {
	return s.state(s.rows(func(*DayGroup, *TimeSlot, *ScheduleGroup) bool { return true }))
}

func (s *Selection) Selected(id string) bool { return s.selected[id] }

// IDs returns the selected ids in view order.
func (s *Selection) IDs() []string {
	ids := []string{}
	for _, row := range s.rows(func(*DayGroup, *TimeSlot, *ScheduleGroup) bool { return true }) {
		if s.selected[row.ID] {
			ids = append(ids, row.ID)
		}
	}
	return ids
}

// toggle selects every row in scope unless all of them already are, in
// which case it clears them.
func (s *Selection) toggle(rows []*model.Schedule) {
	all := s.state(rows) == SelectAll
	for _, r := range rows {
		if all {
			delete(s.selected, r.ID)
		} else {
			s.selected[r.ID] = true
		}
	}
}

func (s *Selection) state(rows []*model.Schedule) SelectState {
	n := 0
	for _, r := range rows {
		if s.selected[r.ID] {
			n++
		}
	}
	switch {
	case n == 0:
		return SelectNone
	case n == len(rows):
		return SelectAll
	}
	return SelectPartial
}

func (s *Selection) rows(match func(*DayGroup, *TimeSlot, *ScheduleGroup) bool) []*model.Schedule {
	var out []*model.Schedule
	for _, d := range s.view.Days {
		for _, sl := range d.Slots {
			for _, g := range sl.Groups {
				if !match(d, sl, g) {
					continue
				}
				for _, row := range g.Schedules {
					if row.Status == model.StatusPending {
						out = append(out, row)
					}
				}
			}
		}
	}
	return out
}
