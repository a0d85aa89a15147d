package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes DispatchJobs to durable RabbitMQ queues named after
// the topic. Failed deliveries are republished with an incremented retry
// header until MaxRetries.
type AMQPQueue struct {
	MaxRetries int
	Prefetch   int

	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex
	log  zerolog.Logger
}

func DialAMQP(url string, log zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{MaxRetries: 3, Prefetch: 16, conn: conn, ch: ch, log: log}, nil
}

func (q *AMQPQueue) declare(topic string) error {
	_, err := q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	job, ok := payload.(DispatchJob)
	if !ok {
		return fmt.Errorf("unsupported payload %T", payload)
	}
	return q.publish(topic, job, 0)
}

func (q *AMQPQueue) publish(topic string, job DispatchJob, retries int) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.declare(topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	})
}

// Subscribe starts consuming topic in the background. autoAck is off; a
// delivery is acked once the handler is done with it.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	if err := q.declare(topic); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if err := q.ch.Qos(q.Prefetch, 0, false); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := q.ch.Consume(topic, "", false, false, false, false, nil)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		for d := range msgs {
			q.handle(topic, d, handler)
		}
		q.log.Info().Str("topic", topic).Msg("consumer stopped")
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler func(payload any) error) {
	job, err := decodeJob(d.Body)
	if err != nil {
		q.log.Warn().Err(err).Msg("invalid job")
		d.Ack(false)
		return
	}
	if err := handler(job); err != nil {
		retries := retryCount(d.Headers)
		if retries < q.MaxRetries {
			if perr := q.publish(topic, job, retries+1); perr != nil {
				q.log.Error().Err(perr).Str("schedule_id", job.ScheduleID).Msg("requeue failed")
				d.Nack(false, true)
				return
			}
		} else {
			q.log.Error().Err(err).Str("schedule_id", job.ScheduleID).Int("attempts", retries+1).Msg("job permanently failed")
		}
	}
	d.Ack(false)
}

func (q *AMQPQueue) Close() error {
	q.ch.Close()
	return q.conn.Close()
}

func decodeJob(body []byte) (DispatchJob, error) {
	var job DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, err
	}
	if job.ScheduleID == "" {
		return job, fmt.Errorf("missing schedule_id")
	}
	return job, nil
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

var (
	_ Queue = (*InMemoryQueue)(nil)
	_ Queue = (*AMQPQueue)(nil)
)
