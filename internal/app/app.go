// Package app wires the stores, adapters and services from a Config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-scheduler/internal/cache"
	"github.com/unclebandit/outreach-scheduler/internal/channel"
	"github.com/unclebandit/outreach-scheduler/internal/config"
	"github.com/unclebandit/outreach-scheduler/internal/db"
	"github.com/unclebandit/outreach-scheduler/internal/queue"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

const templateTTL = 10 * time.Minute

type App struct {
	Config     config.Config
	DB         *sql.DB
	Schedules  repository.ScheduleRepositoryInterface
	Resources  repository.ResourceRepositoryInterface
	Service    *service.ScheduleService
	Dispatcher *service.Dispatcher
	Queue      queue.Queue

	closers []func() error
	log     zerolog.Logger
}

type Option func(*options)

type options struct {
	withQueue bool
}

// WithQueue makes the dispatcher publish to AMQP when AMQP_URL is set, or
// to an in-process queue otherwise.
func WithQueue() Option { return func(o *options) { o.withQueue = true } }

func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	conn, dialect, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: conn, log: log}
	a.closers = append(a.closers, conn.Close)

	if err := db.Migrate(ctx, conn); err != nil {
		a.Close()
		return nil, err
	}

	a.Schedules = &repository.ScheduleRepository{DB: conn, Dialect: dialect}
	a.Resources = &repository.ResourceRepository{DB: conn, Dialect: dialect}
	directory := &repository.CustomerRepository{DB: conn, Dialect: dialect}
	templates := &repository.CachedTemplateRepository{
		Store: &repository.TemplateRepository{DB: conn, Dialect: dialect},
		Cache: a.templateCache(ctx),
		Log:   log,
	}

	gate, err := service.NewChannelApproval(cfg.ApprovalChannels)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("APPROVAL_CHANNELS: %w", err)
	}

	if o.withQueue {
		if err := a.openQueue(); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Dispatcher = service.NewDispatcher(service.Dispatcher{
		Schedules:   a.Schedules,
		Templates:   templates,
		Resources:   a.Resources,
		Adapter:     NewAdapter(cfg, log),
		Pacer:       channel.NewRatePacer(cfg.AdapterRPS),
		Gate:        gate,
		Queue:       a.Queue,
		Topic:       cfg.QueueTopic,
		WorkerID:    cfg.WorkerID,
		Lease:       cfg.ClaimLease,
		SendTimeout: cfg.SendTimeout,
		BatchSize:   cfg.DispatchBatch,
		Parallelism: cfg.DispatchParallelism,
		Log:         log.With().Str("component", "dispatcher").Logger(),
	})

	a.Service = service.NewScheduleService(service.ScheduleService{
		Schedules:     a.Schedules,
		Directory:     directory,
		Templates:     templates,
		Resources:     a.Resources,
		Retrier:       a.Dispatcher,
		Trigger:       a.Dispatcher,
		Location:      cfg.Location(),
		LookaheadDays: cfg.LookaheadDays,
		Log:           log.With().Str("component", "scheduler").Logger(),
	})
	return a, nil
}

func (a *App) templateCache(ctx context.Context) cache.TemplateCache {
	if a.Config.RedisURL == "" {
		return cache.NoOpCache{}
	}
	rc, err := cache.NewRedisCache(ctx, a.Config.RedisURL, templateTTL)
	if err != nil {
		a.log.Warn().Err(err).Msg("redis unavailable, template cache disabled")
		return cache.NoOpCache{}
	}
	a.closers = append(a.closers, rc.Close)
	return rc
}

func (a *App) openQueue() error {
	if a.Config.AMQPURL == "" {
		a.Queue = queue.NewInMemoryQueue(a.log.With().Str("component", "queue").Logger())
		return nil
	}
	q, err := queue.DialAMQP(a.Config.AMQPURL, a.log.With().Str("component", "amqp").Logger())
	if err != nil {
		return err
	}
	a.Queue = q
	a.closers = append(a.closers, q.Close)
	return nil
}

// InProcess reports whether dispatch jobs stay inside this process.
func (a *App) InProcess() bool {
	_, ok := a.Queue.(*queue.InMemoryQueue)
	return ok
}

// NewAdapter builds the channel adapter for cfg.AdapterMode. Rate limiting
// happens in the dispatcher's pacer.
func NewAdapter(cfg config.Config, log zerolog.Logger) channel.Adapter {
	var a channel.Adapter
	switch cfg.AdapterMode {
	case "mock":
		a = channel.NewMockAdapter(cfg.MockFailureRate, time.Now().UnixNano())
	default:
		a = channel.NewLogAdapter(log.With().Str("component", "adapter").Logger())
	}
	return channel.NewRegistry(a)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
