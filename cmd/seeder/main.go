// cmd/seeder/main.go
package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/urfave/cli"

	"github.com/unclebandit/outreach-scheduler/internal/config"
	"github.com/unclebandit/outreach-scheduler/internal/db"
	"github.com/unclebandit/outreach-scheduler/internal/logging"
)

func main() {
	log := logging.New("info", true)
	cliApp := cli.NewApp()
	cliApp.Name = "seeder"
	cliApp.Usage = "apply the schema and seed SQL files"
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "dir", Value: "seed", Usage: "directory holding *.sql seed files"},
		cli.BoolFlag{Name: "schema-only", Usage: "migrate without seeding"},
	}
	cliApp.Action = func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := context.Background()
		conn, _, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(ctx, conn); err != nil {
			return err
		}
		log.Info().Str("db", cfg.DBDriver).Msg("schema applied")
		if c.Bool("schema-only") {
			return nil
		}

		files, err := seedFiles(c.String("dir"))
		if err != nil {
			return err
		}
		for _, file := range files {
			content, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, string(content)); err != nil {
				return cli.NewExitError("failed to execute "+file+": "+err.Error(), 1)
			}
			log.Info().Str("file", file).Msg("seeded")
		}
		log.Info().Int("count", len(files)).Msg("database seeding completed")
		return nil
	}
	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("seeder")
	}
}

// seedFiles lists dir/*.sql in name order.
func seedFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
