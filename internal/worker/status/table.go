package status

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/cuongbtq/speech-relay/internal/worker/schedule"
)

// Table maps session ids to their current status record.
// All methods are safe for concurrent use.
type Table struct {
	mu        sync.RWMutex
	records   map[string]domain.SessionStatus
	scheduler *schedule.Scheduler
	logger    *slog.Logger
}

// NewTable creates an empty status table
func NewTable(scheduler *schedule.Scheduler, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	if scheduler == nil {
		scheduler = schedule.New(nil, logger)
	}

	return &Table{
		records:   make(map[string]domain.SessionStatus),
		scheduler: scheduler,
		logger:    logger,
	}
}

// Create inserts a queued record for a new session
func (t *Table) Create(sessionID string) error {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[sessionID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSession, sessionID)
	}

	t.records[sessionID] = domain.SessionStatus{
		SessionID: sessionID,
		State:     domain.StateQueued,
		Message:   domain.MessageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Get returns a snapshot of the session status, or a not_found status when absent
func (t *Table) Get(sessionID string) domain.SessionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[sessionID]
	if !ok {
		return domain.NotFoundStatus(sessionID)
	}
	return record
}

// MarkProcessing moves a queued session to processing
func (t *Table) MarkProcessing(sessionID string) error {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s does not exist", domain.ErrInvalidTransition, sessionID)
	}
	if record.State != domain.StateQueued {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, record.State, domain.StateProcessing)
	}

	record.State = domain.StateProcessing
	record.Message = domain.MessageProcessing
	record.UpdatedAt = now
	t.records[sessionID] = record
	return nil
}

// SetTerminal moves a non-terminal session to a terminal state and returns the stored record.
// Fields of result other than the state, message, transcription, output reference and
// error detail are ignored.
func (t *Table) SetTerminal(sessionID string, result domain.SessionStatus) (domain.SessionStatus, error) {
	if !result.State.IsTerminal() {
		return domain.SessionStatus{}, fmt.Errorf("%w: %s is not a terminal state", domain.ErrInvalidTransition, result.State)
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[sessionID]
	if !ok {
		return domain.SessionStatus{}, fmt.Errorf("%w: session %s does not exist", domain.ErrInvalidTransition, sessionID)
	}
	if record.State.IsTerminal() {
		return domain.SessionStatus{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, record.State, result.State)
	}

	record.State = result.State
	record.Message = result.Message
	if record.Message == "" {
		record.Message = result.State.DefaultMessage()
	}
	record.Transcription = result.Transcription
	record.OutputRef = result.OutputRef
	record.ErrorDetail = result.ErrorDetail
	record.UpdatedAt = now
	t.records[sessionID] = record

	return record, nil
}

// ScheduleExpiry removes the session record after the given duration
func (t *Table) ScheduleExpiry(sessionID string, after time.Duration) {
	t.scheduler.Once("session:"+sessionID, after, func() {
		if t.Remove(sessionID) {
			t.logger.Debug("Session status expired",
				slog.String("session_id", sessionID),
			)
		}
	})
}

// Remove deletes the session record. It reports whether a record was removed.
func (t *Table) Remove(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[sessionID]; !ok {
		return false
	}
	delete(t.records, sessionID)
	return true
}

// Len returns the number of tracked sessions
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Counts returns the number of tracked sessions per state
func (t *Table) Counts() map[domain.SessionState]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[domain.SessionState]int)
	for _, record := range t.records {
		counts[record.State]++
	}
	return counts
}

func (t *Table) now() time.Time {
	return t.scheduler.Clock().Now().UTC()
}
