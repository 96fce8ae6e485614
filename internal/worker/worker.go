package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/cuongbtq/speech-relay/internal/worker/queue"
	"github.com/google/uuid"
)

// StatusStore is the part of the session status table the worker mutates
type StatusStore interface {
	MarkProcessing(sessionID string) error
	SetTerminal(sessionID string, result domain.SessionStatus) (domain.SessionStatus, error)
	ScheduleExpiry(sessionID string, after time.Duration)
}

// InputCleaner deletes consumed uploads
type InputCleaner interface {
	ScheduleDelete(path string, after time.Duration)
}

// TranscriptionStage runs speech-to-text on a stored upload
type TranscriptionStage interface {
	Run(ctx context.Context, audioPath string) (string, error)
}

// SynthesisStage turns text into a stored artifact and returns its reference
type SynthesisStage interface {
	Run(ctx context.Context, sessionID, text string) (string, error)
}

// Recorder archives terminal sessions
type Recorder interface {
	RecordSession(ctx context.Context, record domain.SessionRecord) error
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Queue           queue.Queue
	Statuses        StatusStore
	Inputs          InputCleaner
	Transcription   TranscriptionStage
	Synthesis       SynthesisStage
	History         Recorder // optional
	Concurrency     int
	InputRetention  time.Duration
	StatusRetention time.Duration
}

// Worker runs the speech pipeline for queued jobs on a fixed pool of goroutines
type Worker struct {
	logger          *slog.Logger
	queue           queue.Queue
	statuses        StatusStore
	inputs          InputCleaner
	transcription   TranscriptionStage
	synthesis       SynthesisStage
	history         Recorder
	workerID        string
	concurrency     int
	inputRetention  time.Duration
	statusRetention time.Duration

	jobsChan <-chan *domain.JobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Queue == nil || cfg.Statuses == nil || cfg.Inputs == nil {
		return nil, errors.New("worker requires a queue, a status store and an input cleaner")
	}
	if cfg.Transcription == nil || cfg.Synthesis == nil {
		return nil, errors.New("worker requires both pipeline stages")
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		logger:          logger,
		queue:           cfg.Queue,
		statuses:        cfg.Statuses,
		inputs:          cfg.Inputs,
		transcription:   cfg.Transcription,
		synthesis:       cfg.Synthesis,
		history:         cfg.History,
		workerID:        "worker-" + uuid.NewString()[:8],
		concurrency:     concurrency,
		inputRetention:  cfg.InputRetention,
		statusRetention: cfg.StatusRetention,
		stopChan:        make(chan struct{}),
	}, nil
}

// Start subscribes to the queue and spawns the worker pool. It does not block.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("input_retention", w.inputRetention),
		slog.Duration("status_retention", w.statusRetention),
	)

	jobs, err := w.subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	w.jobsChan = jobs

	w.spawnWorkerPool(ctx)
	return nil
}

// Stop signals the pool to stop pulling jobs and waits for in-flight jobs to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
