package queue

import (
	"context"
	"testing"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_FIFO(t *testing.T) {
	q := NewMemory(10)
	ctx := context.Background()

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(ctx, domain.Job{SessionID: id, InputPath: "/tmp/" + id}))
	}
	assert.Equal(t, 3, q.Depth())

	jobs, err := q.Consume(ctx)
	require.NoError(t, err)

	for _, id := range ids {
		msg := <-jobs
		assert.Equal(t, id, msg.SessionID)
		assert.NoError(t, q.Ack(msg))
	}
	assert.Equal(t, 0, q.Depth())
}

func TestMemory_Full(t *testing.T) {
	q := NewMemory(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, domain.Job{SessionID: "a"}))
	err := q.Enqueue(ctx, domain.Job{SessionID: "b"})
	assert.ErrorIs(t, err, domain.ErrQueueFull)
	assert.Equal(t, 1, q.Depth())
}

func TestMemory_Close(t *testing.T) {
	q := NewMemory(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, domain.Job{SessionID: "a"}))
	jobs, err := q.Consume(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, domain.Job{SessionID: "b"}), domain.ErrQueueClosed)

	_, err = q.Consume(ctx)
	assert.ErrorIs(t, err, domain.ErrQueueClosed)

	msg, ok := <-jobs
	require.True(t, ok)
	assert.Equal(t, "a", msg.SessionID)

	_, ok = <-jobs
	assert.False(t, ok)
}

func TestMemory_CanceledContext(t *testing.T) {
	q := NewMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, q.Enqueue(ctx, domain.Job{SessionID: "a"}), context.Canceled)
	assert.Equal(t, 0, q.Depth())
}

func TestNewMemory_DefaultCapacity(t *testing.T) {
	q := NewMemory(0)
	assert.Equal(t, DefaultCapacity, cap(q.jobs))
}
