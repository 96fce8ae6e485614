package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
)

// DefaultCapacity is used when a memory queue is created without a positive capacity
const DefaultCapacity = 100

// Memory is a bounded in-process job queue
type Memory struct {
	mu     sync.Mutex
	jobs   chan *domain.JobMessage
	closed bool
	seq    uint64
}

// NewMemory creates a memory queue holding at most capacity pending jobs
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		jobs: make(chan *domain.JobMessage, capacity),
	}
}

// Enqueue adds a job, returning ErrQueueFull instead of blocking when the buffer is full
func (m *Memory) Enqueue(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return domain.ErrQueueClosed
	}

	m.seq++
	msg := &domain.JobMessage{Job: job, DeliveryTag: m.seq}

	select {
	case m.jobs <- msg:
		return nil
	default:
		return fmt.Errorf("enqueue session %s: %w", job.SessionID, domain.ErrQueueFull)
	}
}

// Consume returns the shared delivery channel; every caller competes for the same jobs
func (m *Memory) Consume(ctx context.Context) (<-chan *domain.JobMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, domain.ErrQueueClosed
	}
	return m.jobs, nil
}

// Ack is a no-op, memory deliveries are removed when received
func (m *Memory) Ack(msg *domain.JobMessage) error {
	return nil
}

// Depth returns the number of buffered jobs
func (m *Memory) Depth() int {
	return len(m.jobs)
}

// Close stops accepting jobs and closes the delivery channel
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.jobs)
	return nil
}
