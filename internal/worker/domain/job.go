package domain

import "time"

// Job references one stored upload waiting for processing
type Job struct {
	SessionID string `json:"session_id"`
	InputPath string `json:"input_path"`
}

// JobMessage represents a job handed out by a queue backend
type JobMessage struct {
	Job
	DeliveryTag uint64 `json:"-"`
}

// SessionStatus is the externally visible state of a session
type SessionStatus struct {
	SessionID     string       `json:"session_id"`
	State         SessionState `json:"status"`
	Message       string       `json:"message"`
	Transcription *string      `json:"transcription,omitempty"`
	OutputRef     string       `json:"-"`
	ErrorDetail   string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NotFoundStatus returns the status reported for unknown or expired sessions
func NotFoundStatus(sessionID string) SessionStatus {
	return SessionStatus{
		SessionID: sessionID,
		State:     StateNotFound,
		Message:   MessageNotFound,
	}
}

// HasOutput reports whether the session references a generated artifact
func (s SessionStatus) HasOutput() bool {
	return s.OutputRef != ""
}

// SessionRecord is an archived terminal session
type SessionRecord struct {
	SessionID     string    `db:"session_id"`
	State         string    `db:"state"`
	Message       string    `db:"message"`
	Transcription *string   `db:"transcription"`
	ErrorDetail   *string   `db:"error_detail"`
	HasOutput     bool      `db:"has_output"`
	CreatedAt     time.Time `db:"created_at"`
	CompletedAt   time.Time `db:"completed_at"`
}

// NewSessionRecord converts a terminal status into an archive record
func NewSessionRecord(status SessionStatus) SessionRecord {
	rec := SessionRecord{
		SessionID:     status.SessionID,
		State:         string(status.State),
		Message:       status.Message,
		Transcription: status.Transcription,
		HasOutput:     status.HasOutput(),
		CreatedAt:     status.CreatedAt,
		CompletedAt:   status.UpdatedAt,
	}
	if status.ErrorDetail != "" {
		detail := status.ErrorDetail
		rec.ErrorDetail = &detail
	}
	return rec
}
