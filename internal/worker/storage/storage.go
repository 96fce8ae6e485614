package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

const (
	// DefaultPageSize is used when a history listing asks for no particular size
	DefaultPageSize = 20
	// MaxPageSize caps a single history page
	MaxPageSize = 100
)

const schema = `
CREATE TABLE IF NOT EXISTS session_history (
	session_id    TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	message       TEXT NOT NULL,
	transcription TEXT,
	error_detail  TEXT,
	has_output    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS session_history_completed_idx
	ON session_history (completed_at DESC, session_id DESC);
`

// Storage archives terminal sessions in PostgreSQL
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the history table when it does not exist yet
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create session_history schema: %w", err)
	}
	return nil
}

// RecordSession inserts a terminal session. Re-recording the same session is a no-op.
func (s *Storage) RecordSession(ctx context.Context, record domain.SessionRecord) error {
	query := `
		INSERT INTO session_history (
			session_id, state, message, transcription,
			error_detail, has_output, created_at, completed_at
		) VALUES (
			:session_id, :state, :message, :transcription,
			:error_detail, :has_output, :created_at, :completed_at
		)
		ON CONFLICT (session_id) DO NOTHING
	`

	if _, err := s.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	s.logger.Debug("Session archived",
		slog.String("session_id", record.SessionID),
		slog.String("status", record.State),
	)
	return nil
}

// HistoryFilter selects one page of archived sessions
type HistoryFilter struct {
	State    string
	PageSize int
	Cursor   *HistoryCursor
}

// HistoryCursor points at the last session of the previous page
type HistoryCursor struct {
	CompletedAt time.Time
	SessionID   string
}

// ListSessions returns archived sessions newest first. It fetches one extra row
// so callers can tell whether another page exists.
func (s *Storage) ListSessions(ctx context.Context, filter HistoryFilter) ([]domain.SessionRecord, error) {
	query, args := buildListQuery(filter)

	var records []domain.SessionRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return records, nil
}

func buildListQuery(filter HistoryFilter) (string, []interface{}) {
	query := `
        SELECT
            session_id, state, message, transcription,
            error_detail, has_output, created_at, completed_at
        FROM session_history
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, filter.State)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (completed_at, session_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CompletedAt, filter.Cursor.SessionID)
		argIdx += 2
	}

	// Order by completed_at DESC, session_id DESC for consistent pagination
	query += " ORDER BY completed_at DESC, session_id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampPageSize(filter.PageSize)+1)

	return query, args
}

// ClampPageSize maps a requested page size into [1, MaxPageSize]
func ClampPageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}
