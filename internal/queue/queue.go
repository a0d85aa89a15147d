package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
)

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// DispatchJob asks a worker to deliver one schedule.
type DispatchJob struct {
	ScheduleID string `json:"schedule_id"`
}

// InMemoryQueue delivers jobs to in-process subscribers with retry.
type InMemoryQueue struct {
	MaxRetries int
	Backoff    time.Duration

	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		handlers:   make(map[string][]func(payload any) error),
		log:        log,
	}
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(topic, handler, payload)
	}
	return nil
}

// processJob retries a failing handler with linear backoff, then drops the job.
func (q *InMemoryQueue) processJob(topic string, handler func(payload any) error, payload any) {
	defer q.wg.Done()
	for attempt := 1; ; attempt++ {
		err := handler(payload)
		if err == nil {
			return
		}
		if attempt > q.MaxRetries {
			q.log.Error().Err(err).Str("topic", topic).Int("attempts", attempt).Interface("payload", payload).Msg("job permanently failed")
			return
		}
		q.log.Warn().Err(err).Str("topic", topic).Int("attempt", attempt).Msg("job failed, retrying")
		time.Sleep(time.Duration(attempt) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished its retries.
func (q *InMemoryQueue) Wait() { q.wg.Wait() }

// Dispatcher is the part of the dispatch worker the subscriber drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, scheduleID string) error
}

// StartDispatchSubscriber consumes dispatch jobs from topic with at most
// parallelism jobs in flight. Jobs another worker already claimed are
// acknowledged without retry.
func StartDispatchSubscriber(ctx context.Context, q Queue, topic string, parallelism int, d Dispatcher, log zerolog.Logger) error {
	if parallelism <= 0 {
		parallelism = 1
	}
	slots := make(chan struct{}, parallelism)
	return q.Subscribe(topic, func(payload any) error {
		job, ok := payload.(DispatchJob)
		if !ok {
			log.Warn().Str("type", fmt.Sprintf("%T", payload)).Msg("invalid payload type, expected DispatchJob")
			return nil
		}
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		err := d.Dispatch(ctx, job.ScheduleID)
		<-slots
		switch {
		case err == nil:
			return nil
		case appErrors.IsNotFound(err):
			log.Warn().Str("schedule_id", job.ScheduleID).Msg("schedule not found, dropping job")
			return nil
		case ctx.Err() != nil:
			return nil
		}
		return err
	})
}
