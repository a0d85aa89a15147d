package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-scheduler/internal/app"
	"github.com/unclebandit/outreach-scheduler/internal/config"
	"github.com/unclebandit/outreach-scheduler/internal/logging"
	"github.com/unclebandit/outreach-scheduler/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalLog := logging.New("info", true)
		fatalLog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("worker", cfg.WorkerID).Logger()
	if cfg.AMQPURL == "" {
		log.Fatal().Msg("AMQP_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.WithQueue())
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	defer a.Close()

	if err := run(ctx, a.Queue, cfg.QueueTopic, cfg.DispatchParallelism, a.Dispatcher, log); err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}
	log.Info().Str("topic", cfg.QueueTopic).Msg("worker running, waiting for dispatch jobs")
	<-ctx.Done()
	log.Info().Msg("worker stopping")
}

// run attaches the dispatcher to topic. Jobs keep flowing until ctx ends.
func run(ctx context.Context, q queue.Queue, topic string, parallelism int, d queue.Dispatcher, log zerolog.Logger) error {
	return queue.StartDispatchSubscriber(ctx, q, topic, parallelism, d, log)
}
