package queue

import (
	"context"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
)

const (
	// BackendMemory keeps pending jobs in a bounded in-process channel
	BackendMemory = "memory"
	// BackendRabbitMQ publishes pending jobs to a RabbitMQ queue
	BackendRabbitMQ = "rabbitmq"
)

// Queue is a FIFO of jobs shared by the submit path and the worker pool
type Queue interface {
	// Enqueue adds a job without blocking on consumers
	Enqueue(ctx context.Context, job domain.Job) error
	// Consume returns the channel jobs are delivered on, closed when the queue shuts down
	Consume(ctx context.Context) (<-chan *domain.JobMessage, error)
	// Ack confirms that a delivered job reached a terminal state
	Ack(msg *domain.JobMessage) error
	// Depth reports the number of jobs waiting for a worker
	Depth() int
	Close() error
}
