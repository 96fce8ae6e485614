// Package relay is the submission surface the web layer calls into.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/cuongbtq/speech-relay/internal/worker/queue"
	"github.com/cuongbtq/speech-relay/internal/worker/storage"
	"github.com/google/uuid"
)

// ErrHistoryDisabled is returned by History when no archive is configured
var ErrHistoryDisabled = errors.New("session history is disabled")

// FileStore is the part of the file store used by the submission surface
type FileStore interface {
	Root() string
	Save(data []byte, filenameHint string) (string, error)
	DeleteNow(path string) error
	ConsumeOutput(ref string) ([]byte, error)
}

// StatusTable is the part of the session status table used by the submission surface
type StatusTable interface {
	Create(sessionID string) error
	Get(sessionID string) domain.SessionStatus
	Remove(sessionID string) bool
	Len() int
	Counts() map[domain.SessionState]int
}

// HistoryLister reads archived sessions
type HistoryLister interface {
	ListSessions(ctx context.Context, filter storage.HistoryFilter) ([]domain.SessionRecord, error)
}

// Config holds service dependencies
type Config struct {
	Logger   *slog.Logger
	Files    FileStore
	Statuses StatusTable
	Queue    queue.Queue
	History  HistoryLister // optional
	// HistoryCheck probes the archive backend for the health report, optional
	HistoryCheck func(ctx context.Context) error
}

// Service accepts submissions and answers status and output queries
type Service struct {
	logger   *slog.Logger
	files    FileStore
	statuses StatusTable
	queue    queue.Queue
	history  HistoryLister
	check    func(ctx context.Context) error
	newID    func() string
}

// NewService creates a new Service instance
func NewService(cfg *Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:   logger,
		files:    cfg.Files,
		statuses: cfg.Statuses,
		queue:    cfg.Queue,
		history:  cfg.History,
		check:    cfg.HistoryCheck,
		newID:    uuid.NewString,
	}
}

// Submit stores the audio, records the session as queued and enqueues the job.
// It returns as soon as the job is queued.
func (s *Service) Submit(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", domain.ErrEmptyAudio
	}

	path, err := s.files.Save(data, filename)
	if err != nil {
		return "", err
	}

	sessionID := s.newID()

	// The status must exist before any worker can see the job
	if err := s.statuses.Create(sessionID); err != nil {
		s.discardUpload(path)
		return "", err
	}

	job := domain.Job{SessionID: sessionID, InputPath: path}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.statuses.Remove(sessionID)
		s.discardUpload(path)
		s.logger.Error("Failed to enqueue job",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Session queued",
		slog.String("session_id", sessionID),
		slog.String("filename", filename),
		slog.Int("size", len(data)),
	)

	return sessionID, nil
}

func (s *Service) discardUpload(path string) {
	if err := s.files.DeleteNow(path); err != nil {
		s.logger.Warn("Failed to remove rejected upload",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// GetStatus returns the current status, with state not_found for unknown or expired sessions
func (s *Service) GetStatus(sessionID string) domain.SessionStatus {
	return s.statuses.Get(sessionID)
}

// ConsumeOutput returns the synthesized audio of a completed session
func (s *Service) ConsumeOutput(sessionID string) ([]byte, error) {
	status := s.statuses.Get(sessionID)
	if status.State != domain.StateCompleted || !status.HasOutput() {
		return nil, domain.ErrNotFound
	}

	return s.files.ConsumeOutput(status.OutputRef)
}

// HistoryPage is one page of archived sessions
type HistoryPage struct {
	Sessions []domain.SessionRecord
	Next     *storage.HistoryCursor
}

// History lists archived sessions newest first
func (s *Service) History(ctx context.Context, filter storage.HistoryFilter) (*HistoryPage, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}

	pageSize := storage.ClampPageSize(filter.PageSize)
	filter.PageSize = pageSize

	records, err := s.history.ListSessions(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Sessions: records}
	if len(records) > pageSize {
		page.Sessions = records[:pageSize]
		last := page.Sessions[pageSize-1]
		page.Next = &storage.HistoryCursor{
			CompletedAt: last.CompletedAt,
			SessionID:   last.SessionID,
		}
	}

	return page, nil
}

// Health summarizes the state of the service. HistoryReady is nil when no archive is configured.
type Health struct {
	StorageReady bool
	HistoryReady *bool
	QueueDepth   int
	Sessions     int
	ByState      map[domain.SessionState]int
}

// Health reports storage availability, queue depth and tracked sessions
func (s *Service) Health(ctx context.Context) Health {
	info, err := os.Stat(s.files.Root())
	health := Health{
		StorageReady: err == nil && info.IsDir(),
		QueueDepth:   s.queue.Depth(),
		Sessions:     s.statuses.Len(),
		ByState:      s.statuses.Counts(),
	}

	if s.check != nil {
		ready := true
		if err := s.check(ctx); err != nil {
			s.logger.Warn("History archive health check failed", slog.String("error", err.Error()))
			ready = false
		}
		health.HistoryReady = &ready
	}

	return health
}
