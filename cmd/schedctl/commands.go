package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/unclebandit/outreach-scheduler/internal/app"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

var (
	runFlags = []cli.Flag{
		cli.StringFlag{Name: "channel, c", Usage: "email, sms or voice (dial)"},
		cli.StringFlag{Name: "template, t", Usage: "template id"},
		cli.StringFlag{Name: "resource, r", Usage: "sending resource id, default the channel's active one"},
		cli.StringFlag{Name: "campaign", Usage: "campaign id"},
		cli.StringFlag{Name: "segment", Usage: "segment id"},
		cli.StringSliceFlag{Name: "customer", Usage: "customer id for an ad-hoc send (repeatable)"},
		cli.StringFlag{Name: "start", Usage: "RFC 3339 start time, default now"},
		cli.StringFlag{Name: "description, d", Usage: "free text stored on every row"},
	}

	filterFlags = []cli.Flag{
		cli.StringFlag{Name: "channel, c", Usage: "only this channel"},
		cli.StringFlag{Name: "status, s", Usage: "pending, sent or failed"},
		cli.StringFlag{Name: "campaign", Usage: "only this campaign"},
		cli.StringFlag{Name: "segment", Usage: "only this segment"},
		cli.StringFlag{Name: "resource, r", Usage: "only this resource"},
		cli.StringFlag{Name: "from", Usage: "first day, YYYY-MM-DD"},
		cli.StringFlag{Name: "to", Usage: "last day, YYYY-MM-DD"},
	}

	selectFlags = []cli.Flag{
		cli.StringSliceFlag{Name: "id", Usage: "schedule id (repeatable)"},
		cli.StringSliceFlag{Name: "day", Usage: "every pending row of a day, YYYY-MM-DD (repeatable)"},
		cli.StringSliceFlag{Name: "group", Usage: "DATE/HH:MM:SS/KEY from the list output (repeatable)"},
		cli.BoolFlag{Name: "all", Usage: "every pending row matching the filters"},
	}
)

func runRequest(c *cli.Context) (service.CreateRequest, error) {
	ch, err := model.ParseChannel(c.String("channel"))
	if err != nil {
		return service.CreateRequest{}, appErrors.NewInvalidRequest("channel", err.Error())
	}
	req := service.CreateRequest{
		Channel:     ch,
		TemplateID:  c.String("template"),
		ResourceID:  c.String("resource"),
		Description: c.String("description"),
		GroupRef: service.GroupRef{
			CampaignID:  c.String("campaign"),
			SegmentID:   c.String("segment"),
			CustomerIDs: c.StringSlice("customer"),
		},
	}
	if v := c.String("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, appErrors.NewInvalidRequest("start", "expected RFC 3339")
		}
		req.StartAt = &t
	}
	return req, nil
}

func filter(c *cli.Context) (model.ScheduleFilter, error) {
	f := model.ScheduleFilter{
		CampaignID: c.String("campaign"),
		SegmentID:  c.String("segment"),
		ResourceID: c.String("resource"),
		FromDay:    c.String("from"),
		ToDay:      c.String("to"),
	}
	if v := c.String("channel"); v != "" {
		ch, err := model.ParseChannel(v)
		if err != nil {
			return f, appErrors.NewInvalidRequest("channel", err.Error())
		}
		f.Channel = ch
	}
	if v := c.String("status"); v != "" {
		st := model.ScheduleStatus(v)
		if !st.IsValid() {
			return f, appErrors.NewInvalidRequest("status", "unknown status "+v)
		}
		f.Status = st
	}
	return f, nil
}

func preview(ctx context.Context, c *cli.Context, a *app.App) error {
	req, err := runRequest(c)
	if err != nil {
		return err
	}
	res, err := a.Service.PreviewSchedules(ctx, req)
	if err != nil {
		return err
	}
	if c.GlobalBool("json") {
		return printJSON(os.Stdout, res)
	}
	printBatches(os.Stdout, res.ResourceID, res.Valid, res.Invalid, res.Batches)
	if res.Unplaced > 0 {
		fmt.Fprintf(os.Stdout, "%d recipients do not fit within %d days\n", res.Unplaced, a.Config.LookaheadDays)
	}
	return nil
}

func create(ctx context.Context, c *cli.Context, a *app.App) error {
	req, err := runRequest(c)
	if err != nil {
		return err
	}
	res, err := a.Service.CreateSchedules(ctx, req)
	if errors.Is(err, appErrors.ErrEmptyRecipientSet) && res != nil {
		fmt.Fprintf(os.Stdout, "nothing scheduled: %d recipients have no usable address\n", res.Invalid)
		return nil
	}
	if err != nil {
		return err
	}
	if c.GlobalBool("json") {
		return printJSON(os.Stdout, res)
	}
	printBatches(os.Stdout, res.ResourceID, res.Created, res.Invalid, res.Batches)
	return nil
}

func list(ctx context.Context, c *cli.Context, a *app.App) error {
	f, err := filter(c)
	if err != nil {
		return err
	}
	view, err := a.Service.ListSchedules(ctx, f)
	if err != nil {
		return err
	}
	if c.GlobalBool("json") {
		return printJSON(os.Stdout, view)
	}
	printView(os.Stdout, view)
	return nil
}

func stats(ctx context.Context, c *cli.Context, a *app.App) error {
	f, err := filter(c)
	if err != nil {
		return err
	}
	st, err := a.Service.Stats(ctx, f)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, st)
}

// selected lists the view matching the filters and applies the selection flags.
func selected(ctx context.Context, c *cli.Context, a *app.App) ([]string, error) {
	f, err := filter(c)
	if err != nil {
		return nil, err
	}
	view, err := a.Service.ListSchedules(ctx, f)
	if err != nil {
		return nil, err
	}
	ids, err := selectIDs(view, selectArgs{
		IDs:    c.StringSlice("id"),
		Days:   c.StringSlice("day"),
		Groups: c.StringSlice("group"),
		All:    c.Bool("all"),
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, cli.NewExitError("no pending schedules selected", 1)
	}
	return ids, nil
}

func approve(ctx context.Context, c *cli.Context, a *app.App) error {
	ids, err := selected(ctx, c, a)
	if err != nil {
		return err
	}
	n, err := a.Service.Approve(ctx, ids)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "approved %d of %d\n", n, len(ids))
	return nil
}

func cancel(ctx context.Context, c *cli.Context, a *app.App) error {
	ids, err := selected(ctx, c, a)
	if err != nil {
		return err
	}
	res, err := a.Service.DeleteSchedules(ctx, ids)
	if err != nil {
		return err
	}
	if c.GlobalBool("json") {
		return printJSON(os.Stdout, res)
	}
	fmt.Fprintf(os.Stdout, "deleted %d, skipped %d\n", len(res.Deleted), len(res.Skipped))
	return nil
}

func retry(ctx context.Context, c *cli.Context, a *app.App) error {
	id := c.Args().First()
	if id == "" {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}
	s, err := a.Service.Retry(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s: %s after %d attempts", s.ID, s.Status, s.Attempts)
	if s.LastError != "" {
		fmt.Fprintf(os.Stdout, " (%s)", s.LastError)
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

func remaining(ctx context.Context, c *cli.Context, a *app.App) error {
	id := c.Args().First()
	if id == "" {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}
	q, err := a.Service.Remaining(ctx, id, c.String("date"))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, q)
}

func useResource(ctx context.Context, c *cli.Context, a *app.App) error {
	id := c.Args().First()
	if id == "" {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}
	if err := a.Resources.SetActive(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s is now active\n", id)
	return nil
}

func poll(ctx context.Context, c *cli.Context, a *app.App) error {
	res, err := a.Dispatcher.Poll(ctx)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}
