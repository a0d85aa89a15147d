// Command schedctl is the operator console for schedules: preview and create
// runs, inspect the grouped view, approve, retry and cancel.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli"

	"github.com/unclebandit/outreach-scheduler/internal/app"
	"github.com/unclebandit/outreach-scheduler/internal/config"
	"github.com/unclebandit/outreach-scheduler/internal/logging"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "schedctl"
	cliApp.Usage = "manage outreach schedules"
	cliApp.Flags = []cli.Flag{
		cli.BoolFlag{Name: "json", Usage: "print raw JSON instead of tables"},
	}
	cliApp.Commands = []cli.Command{
		{
			Name:   "preview",
			Usage:  "show how a run would be spread over days, without saving",
			Flags:  runFlags,
			Action: withApp(preview),
		},
		{
			Name:   "create",
			Usage:  "schedule a run",
			Flags:  runFlags,
			Action: withApp(create),
		},
		{
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "print schedules grouped by day, time and group",
			Flags:   filterFlags,
			Action:  withApp(list),
		},
		{
			Name:   "stats",
			Usage:  "count schedules by status and pending per day",
			Flags:  filterFlags,
			Action: withApp(stats),
		},
		{
			Name:   "approve",
			Usage:  "approve the selected pending schedules",
			Flags:  append(append([]cli.Flag{}, filterFlags...), selectFlags...),
			Action: withApp(approve),
		},
		{
			Name:      "retry",
			Usage:     "re-attempt a failed schedule",
			ArgsUsage: "<schedule-id>",
			Action:    withApp(retry),
		},
		{
			Name:   "cancel",
			Usage:  "delete the selected pending schedules",
			Flags:  append(append([]cli.Flag{}, filterFlags...), selectFlags...),
			Action: withApp(cancel),
		},
		{
			Name:      "remaining",
			Usage:     "show a resource's quota for a day",
			ArgsUsage: "<resource-id>",
			Flags:     []cli.Flag{cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD, default today"}},
			Action:    withApp(remaining),
		},
		{
			Name:      "use-resource",
			Usage:     "make a resource the active one for its channel",
			ArgsUsage: "<resource-id>",
			Action:    withApp(useResource),
		},
		{
			Name:   "poll",
			Usage:  "dispatch due schedules once, in this process",
			Action: withApp(poll),
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fatalLog := logging.New("info", true)
		fatalLog.Fatal().Err(err).Msg("schedctl")
	}
}

type action func(ctx context.Context, c *cli.Context, a *app.App) error

// withApp loads config, wires the app and closes it after fn.
func withApp(fn action) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logging.New(cfg.LogLevel, true)
		ctx := context.Background()
		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		err = fn(ctx, c, a)
		// Ad-hoc sends started by create finish before the store closes.
		a.Dispatcher.Drain()
		return err
	}
}
