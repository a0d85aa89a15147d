package main

import (
	"strings"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

type selectArgs struct {
	IDs    []string
	Days   []string
	Groups []string
	All    bool
}

// selectIDs resolves the flags against view. Scopes add up; a row named by
// several flags is selected once.
func selectIDs(view *service.GroupedView, args selectArgs) ([]string, error) {
	sel := service.NewSelection(view)
	if args.All && sel.AllState() != service.SelectAll {
		sel.ToggleAll()
	}
	for _, day := range args.Days {
		if sel.DayState(day) != service.SelectAll {
			sel.ToggleDay(day)
		}
	}
	for _, g := range args.Groups {
		parts := strings.SplitN(g, "/", 3)
		if len(parts) != 3 {
			return nil, appErrors.NewInvalidRequest("group", "expected DATE/HH:MM:SS/KEY, got "+g)
		}
		if sel.GroupState(parts[0], parts[1], parts[2]) != service.SelectAll {
			sel.ToggleGroup(parts[0], parts[1], parts[2])
		}
	}
	for _, id := range args.IDs {
		if !sel.Selected(id) {
			sel.ToggleRow(id)
		}
	}
	return sel.IDs(), nil
}
