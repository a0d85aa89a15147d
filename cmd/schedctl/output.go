package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/unclebandit/outreach-scheduler/internal/service"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBatches(w io.Writer, resourceID string, valid, invalid int, batches []service.BatchSummary) {
	fmt.Fprintf(w, "resource %s: %d recipients, %d without address\n", resourceID, valid, invalid)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tCOUNT")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%d\n", b.Date, b.Count)
	}
	tw.Flush()
}

// printView prints one line per group; the GROUP column is what --group takes.
func printView(w io.Writer, view *service.GroupedView) {
	if len(view.Days) == 0 {
		fmt.Fprintln(w, "no schedules found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tNAME\tSTATUS\tPENDING\tSENT\tFAILED")
	for _, d := range view.Days {
		for _, sl := range d.Slots {
			for _, g := range sl.Groups {
				name := g.Name
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(tw, "%s/%s/%s\t%s\t%s\t%d\t%d\t%d\n",
					d.Date, sl.Time, g.Key, name, g.Status, g.Counts.Pending, g.Counts.Sent, g.Counts.Failed)
			}
		}
	}
	tw.Flush()
	c := view.Counts
	fmt.Fprintf(w, "total %d: %d pending, %d sent, %d failed\n", c.Total, c.Pending, c.Sent, c.Failed)
}
