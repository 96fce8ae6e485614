package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/cuongbtq/speech-relay/internal/worker/filestore"
	"github.com/cuongbtq/speech-relay/internal/worker/queue"
	"github.com/cuongbtq/speech-relay/internal/worker/schedule"
	"github.com/cuongbtq/speech-relay/internal/worker/stage"
	"github.com/cuongbtq/speech-relay/internal/worker/status"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// stubEngine implements both speech capabilities with call counters
type stubEngine struct {
	mu              sync.Mutex
	segments        []string
	transcribeErr   error
	synthesizeErr   error
	audio           []byte
	transcribeCalls int
	synthesizeCalls int
	gate            chan struct{} // when set, Transcribe waits for a value
}

func (e *stubEngine) Transcribe(ctx context.Context, audioPath string) ([]string, error) {
	e.mu.Lock()
	e.transcribeCalls++
	gate := e.gate
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.transcribeErr != nil {
		return nil, e.transcribeErr
	}
	return e.segments, nil
}

func (e *stubEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	e.mu.Lock()
	e.synthesizeCalls++
	e.mu.Unlock()

	if e.synthesizeErr != nil {
		return nil, e.synthesizeErr
	}
	return e.audio, nil
}

func (e *stubEngine) calls() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcribeCalls, e.synthesizeCalls
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.SessionRecord
	err     error
}

func (r *fakeRecorder) RecordSession(ctx context.Context, record domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return r.err
}

type harness struct {
	worker    *Worker
	queue     *queue.Memory
	statuses  *status.Table
	files     *filestore.Store
	scheduler *schedule.Scheduler
	clock     fakeClock
	engine    *stubEngine
	recorder  *fakeRecorder
}

func newHarness(t *testing.T, engine *stubEngine, concurrency int, statusRetention time.Duration) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClock()
	scheduler := schedule.New(clock, logger)
	t.Cleanup(scheduler.Stop)

	files, err := filestore.New(&filestore.Config{
		Root:         t.TempDir(),
		OutputGrace:  10 * time.Second,
		OutputMaxAge: time.Hour,
		Scheduler:    scheduler,
		Logger:       logger,
	})
	require.NoError(t, err)

	q := queue.NewMemory(10)
	statuses := status.NewTable(scheduler, logger)
	recorder := &fakeRecorder{}

	w, err := NewWorker(&Config{
		Logger:          logger,
		Queue:           q,
		Statuses:        statuses,
		Inputs:          files,
		Transcription:   stage.NewTranscription(engine, time.Second),
		Synthesis:       stage.NewSynthesis(engine, files, time.Second),
		History:         recorder,
		Concurrency:     concurrency,
		StatusRetention: statusRetention,
	})
	require.NoError(t, err)

	return &harness{
		worker:    w,
		queue:     q,
		statuses:  statuses,
		files:     files,
		scheduler: scheduler,
		clock:     clock,
		engine:    engine,
		recorder:  recorder,
	}
}

// submit stores an upload, creates its queued record and returns the job
func (h *harness) submit(t *testing.T) domain.Job {
	t.Helper()

	path, err := h.files.Save([]byte("RIFF....WAVEfmt "), "clip.wav")
	require.NoError(t, err)

	job := domain.Job{SessionID: uuid.NewString(), InputPath: path}
	require.NoError(t, h.statuses.Create(job.SessionID))
	return job
}

func (h *harness) process(job domain.Job) domain.SessionStatus {
	return h.worker.processJob(context.Background(), &domain.JobMessage{Job: job})
}

func TestProcessJob_Completed(t *testing.T) {
	engine := &stubEngine{segments: []string{" hello ", "world "}, audio: []byte("RIFF-out")}
	h := newHarness(t, engine, 1, 5*time.Minute)
	job := h.submit(t)

	final := h.process(job)

	assert.Equal(t, domain.StateCompleted, final.State)
	got := h.statuses.Get(job.SessionID)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.Equal(t, domain.MessageCompleted, got.Message)
	require.NotNil(t, got.Transcription)
	assert.Equal(t, "hello world", *got.Transcription)
	require.True(t, got.HasOutput())
	assert.Empty(t, got.ErrorDetail)

	// The input is gone, the output is still there
	_, err := os.Stat(job.InputPath)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, h.files.OutputExists(got.OutputRef))

	data, err := h.files.ConsumeOutput(got.OutputRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF-out"), data)

	require.Len(t, h.recorder.records, 1)
	assert.Equal(t, "completed", h.recorder.records[0].State)
	assert.True(t, h.recorder.records[0].HasOutput)
}

func TestProcessJob_NearSilentClip(t *testing.T) {
	engine := &stubEngine{segments: []string{"."}, audio: []byte("RIFF-silence")}
	h := newHarness(t, engine, 1, 5*time.Minute)
	job := h.submit(t)

	final := h.process(job)

	assert.Equal(t, domain.StateCompleted, final.State)
	require.NotNil(t, final.Transcription)
	assert.LessOrEqual(t, len(*final.Transcription), 1)

	data, err := h.files.ConsumeOutput(final.OutputRef)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestProcessJob_TranscriptionFails(t *testing.T) {
	engine := &stubEngine{transcribeErr: errors.New("unreadable audio")}
	h := newHarness(t, engine, 1, 5*time.Minute)
	job := h.submit(t)

	final := h.process(job)

	assert.Equal(t, domain.StateFailed, final.State)
	assert.Equal(t, domain.MessageFailed, final.Message)
	assert.False(t, final.HasOutput())
	assert.Nil(t, final.Transcription)
	assert.Contains(t, final.ErrorDetail, "unreadable audio")

	transcribeCalls, synthesizeCalls := engine.calls()
	assert.Equal(t, 1, transcribeCalls)
	assert.Equal(t, 0, synthesizeCalls)

	_, err := os.Stat(job.InputPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessJob_SynthesisFails(t *testing.T) {
	tests := []struct {
		name   string
		engine *stubEngine
	}{
		{
			name:   "engine error",
			engine: &stubEngine{segments: []string{"hello"}, synthesizeErr: errors.New("tts down")},
		},
		{
			name:   "blank transcription",
			engine: &stubEngine{segments: []string{"  "}, audio: []byte("RIFF")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.engine, 1, 5*time.Minute)
			job := h.submit(t)

			final := h.process(job)

			assert.Equal(t, domain.StatePartialSuccess, final.State)
			assert.Equal(t, domain.MessagePartialSuccess, final.Message)
			require.NotNil(t, final.Transcription)
			assert.False(t, final.HasOutput())
			assert.NotEmpty(t, final.ErrorDetail)
		})
	}
}

func TestProcessJob_MissingStatusDropsJob(t *testing.T) {
	engine := &stubEngine{segments: []string{"hello"}, audio: []byte("RIFF")}
	h := newHarness(t, engine, 1, 5*time.Minute)

	path, err := h.files.Save([]byte("RIFF"), "a.wav")
	require.NoError(t, err)

	final := h.process(domain.Job{SessionID: uuid.NewString(), InputPath: path})

	assert.Equal(t, domain.StateNotFound, final.State)
	transcribeCalls, _ := engine.calls()
	assert.Equal(t, 0, transcribeCalls)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessJob_HistoryFailureIsIgnored(t *testing.T) {
	engine := &stubEngine{transcribeErr: errors.New("boom")}
	h := newHarness(t, engine, 1, 5*time.Minute)
	h.recorder.err = errors.New("database down")
	job := h.submit(t)

	final := h.process(job)

	assert.Equal(t, domain.StateFailed, final.State)
	assert.Equal(t, domain.StateFailed, h.statuses.Get(job.SessionID).State)
}

func TestProcessJob_StatusExpires(t *testing.T) {
	engine := &stubEngine{transcribeErr: errors.New("boom")}
	h := newHarness(t, engine, 1, time.Second)
	job := h.submit(t)

	h.process(job)
	assert.Equal(t, domain.StateFailed, h.statuses.Get(job.SessionID).State)

	h.clock.Advance(1100 * time.Millisecond)

	require.Eventually(t, func() bool {
		return h.statuses.Get(job.SessionID).State == domain.StateNotFound
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_SingleSlotRunsJobsInOrder(t *testing.T) {
	engine := &stubEngine{
		segments: []string{"hello"},
		audio:    []byte("RIFF"),
		gate:     make(chan struct{}),
	}
	h := newHarness(t, engine, 1, 5*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.worker.Start(ctx))
	defer h.worker.Stop()

	first := h.submit(t)
	second := h.submit(t)
	require.NoError(t, h.queue.Enqueue(ctx, first))
	require.NoError(t, h.queue.Enqueue(ctx, second))

	require.Eventually(t, func() bool {
		return h.statuses.Get(first.SessionID).State == domain.StateProcessing
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StateQueued, h.statuses.Get(second.SessionID).State)

	engine.gate <- struct{}{}

	require.Eventually(t, func() bool {
		return h.statuses.Get(first.SessionID).State == domain.StateCompleted
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.statuses.Get(second.SessionID).State == domain.StateProcessing
	}, time.Second, 5*time.Millisecond)

	engine.gate <- struct{}{}

	require.Eventually(t, func() bool {
		return h.statuses.Get(second.SessionID).State == domain.StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_ConcurrentPool(t *testing.T) {
	engine := &stubEngine{segments: []string{"hi"}, audio: []byte("RIFF")}
	h := newHarness(t, engine, 3, 5*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.worker.Start(ctx))
	defer h.worker.Stop()

	jobs := make([]domain.Job, 8)
	for i := range jobs {
		jobs[i] = h.submit(t)
		require.NoError(t, h.queue.Enqueue(ctx, jobs[i]))
	}

	require.Eventually(t, func() bool {
		for _, job := range jobs {
			if h.statuses.Get(job.SessionID).State != domain.StateCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	transcribeCalls, synthesizeCalls := engine.calls()
	assert.Equal(t, 8, transcribeCalls)
	assert.Equal(t, 8, synthesizeCalls)
}

func TestWorker_StopFinishesInFlightJob(t *testing.T) {
	engine := &stubEngine{
		segments: []string{"hello"},
		audio:    []byte("RIFF"),
		gate:     make(chan struct{}),
	}
	h := newHarness(t, engine, 1, 5*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.worker.Start(ctx))

	job := h.submit(t)
	require.NoError(t, h.queue.Enqueue(ctx, job))

	require.Eventually(t, func() bool {
		return h.statuses.Get(job.SessionID).State == domain.StateProcessing
	}, time.Second, 5*time.Millisecond)

	// Shutdown cancels the root context before stopping the pool
	cancel()
	stopped := make(chan struct{})
	go func() {
		h.worker.Stop()
		close(stopped)
	}()

	engine.gate <- struct{}{}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, domain.StateCompleted, h.statuses.Get(job.SessionID).State)
}

func TestNewWorker_Validation(t *testing.T) {
	_, err := NewWorker(&Config{})
	assert.Error(t, err)

	engine := &stubEngine{}
	h := newHarness(t, engine, 0, time.Minute)
	assert.Equal(t, 1, h.worker.concurrency)
}
