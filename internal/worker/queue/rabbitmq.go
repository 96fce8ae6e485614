package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// broker is the subset of the shared RabbitMQ client used by the queue
type broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
	MessageCount() (int, error)
	Close() error
}

// RabbitMQConfig configures the RabbitMQ queue backend
type RabbitMQConfig struct {
	ConsumerTag string
	// Prefetch bounds unacknowledged deliveries, normally the worker pool size
	Prefetch int
	Logger   *slog.Logger
}

// RabbitMQ is a job queue backed by a durable RabbitMQ queue
type RabbitMQ struct {
	client      broker
	consumerTag string
	prefetch    int
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewRabbitMQ wraps a connected RabbitMQ client
func NewRabbitMQ(client broker, cfg RabbitMQConfig) *RabbitMQ {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tag := cfg.ConsumerTag
	if tag == "" {
		tag = "speech-relay-" + uuid.NewString()[:8]
	}
	return &RabbitMQ{
		client:      client,
		consumerTag: tag,
		prefetch:    prefetch,
		logger:      logger,
	}
}

// Enqueue publishes the job as JSON
func (q *RabbitMQ) Enqueue(ctx context.Context, job domain.Job) error {
	if q.isClosed() {
		return domain.ErrQueueClosed
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("enqueue session %s: %w", job.SessionID, err)
	}
	return nil
}

// Consume starts a dispatcher that decodes deliveries into jobs
func (q *RabbitMQ) Consume(ctx context.Context) (<-chan *domain.JobMessage, error) {
	if q.isClosed() {
		return nil, domain.ErrQueueClosed
	}

	deliveries, err := q.client.Consume(q.consumerTag, q.prefetch)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.JobMessage)
	go q.dispatch(ctx, deliveries, out)
	return out, nil
}

// dispatch listens to RabbitMQ deliveries and forwards valid jobs to the worker pool
func (q *RabbitMQ) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- *domain.JobMessage) {
	defer close(out)

	q.logger.Info("Message dispatcher started",
		slog.String("consumer_tag", q.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				q.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			job, err := decodeJob(delivery.Body)
			if err != nil {
				q.logger.Error("Discarding malformed job message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages are never retried
				if nackErr := q.client.Nack(delivery.DeliveryTag, false); nackErr != nil {
					q.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg := &domain.JobMessage{Job: job, DeliveryTag: delivery.DeliveryTag}

			select {
			case out <- msg:
				q.logger.Debug("Job dispatched to worker pool",
					slog.String("session_id", job.SessionID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				q.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := q.client.Nack(delivery.DeliveryTag, true); nackErr != nil {
					q.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

func decodeJob(body []byte) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return domain.Job{}, fmt.Errorf("parse job message: %w", err)
	}
	if _, err := uuid.Parse(job.SessionID); err != nil {
		return domain.Job{}, fmt.Errorf("invalid session_id %q: %w", job.SessionID, err)
	}
	if job.InputPath == "" {
		return domain.Job{}, fmt.Errorf("job %s has no input_path", job.SessionID)
	}
	return job, nil
}

// Ack acknowledges the delivery behind msg
func (q *RabbitMQ) Ack(msg *domain.JobMessage) error {
	if err := q.client.Ack(msg.DeliveryTag); err != nil {
		return fmt.Errorf("ack session %s: %w", msg.SessionID, err)
	}
	return nil
}

// Depth returns the broker's ready message count, or 0 when it cannot be read
func (q *RabbitMQ) Depth() int {
	n, err := q.client.MessageCount()
	if err != nil {
		q.logger.Warn("Failed to read queue depth", slog.Any("error", err))
		return 0
	}
	return n
}

// Close closes the underlying client
func (q *RabbitMQ) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	return q.client.Close()
}

func (q *RabbitMQ) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
