// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.WithQueue())
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	defer a.Close()

	// Without a broker the server also consumes its own dispatch jobs.
	if a.InProcess() {
		if err := queue.StartDispatchSubscriber(ctx, a.Queue, cfg.QueueTopic, cfg.DispatchParallelism, a.Dispatcher, log); err != nil {
			log.Fatal().Err(err).Msg("subscribe")
		}
	}

	poller, err := a.Dispatcher.StartPoller(ctx, cfg.DispatchSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("poller")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("db", cfg.DBDriver).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listen")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	<-poller.Stop().Done()
	a.Dispatcher.Drain()
	if q, ok := a.Queue.(*queue.InMemoryQueue); ok {
		q.Wait()
	}
}
