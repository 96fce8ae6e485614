package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
)

// subscribe opens the delivery channel shared by every goroutine of the pool
func (w *Worker) subscribe(ctx context.Context) (<-chan *domain.JobMessage, error) {
	jobs, err := w.queue.Consume(ctx)
	if err != nil {
		return nil, err
	}

	w.logger.Info("Job consumer started",
		slog.String("worker_id", w.workerID),
		slog.Int("queue_depth", w.queue.Depth()),
	)
	return jobs, nil
}

// ack confirms a finished job to the queue; failures are logged only
func (w *Worker) ack(workerName string, msg *domain.JobMessage) {
	if err := w.queue.Ack(msg); err != nil {
		w.logger.Error("Failed to ACK job",
			slog.String("worker_name", workerName),
			slog.String("session_id", msg.SessionID),
			slog.String("error", err.Error()),
		)
	}
}
