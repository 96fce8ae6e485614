package dto

import (
	"time"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
)

// SubmitResponse is returned after an upload was queued
type SubmitResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// StatusResponse is the status payload polled by clients
type StatusResponse struct {
	SessionID     string  `json:"session_id"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
	Transcription *string `json:"transcription,omitempty"`
	AudioURL      string  `json:"tts_audio_url,omitempty"`
	Error         string  `json:"error,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

// NewStatusResponse renders a status; audioURL is only set for sessions with an output
func NewStatusResponse(status domain.SessionStatus, audioURL string) StatusResponse {
	resp := StatusResponse{
		SessionID:     status.SessionID,
		Status:        string(status.State),
		Message:       status.Message,
		Transcription: status.Transcription,
		Error:         status.ErrorDetail,
		CreatedAt:     formatTime(status.CreatedAt),
		UpdatedAt:     formatTime(status.UpdatedAt),
	}
	if status.HasOutput() {
		resp.AudioURL = audioURL
	}
	return resp
}

type ListHistoryRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListHistoryResponse struct {
	Sessions   []HistoryDTO `json:"sessions"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type HistoryDTO struct {
	SessionID     string  `json:"session_id"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
	Transcription *string `json:"transcription,omitempty"`
	Error         *string `json:"error,omitempty"`
	HasOutput     bool    `json:"has_output"`
	CreatedAt     string  `json:"created_at"`
	CompletedAt   string  `json:"completed_at"`
}

// NewHistoryDTO renders an archived session
func NewHistoryDTO(record domain.SessionRecord) HistoryDTO {
	return HistoryDTO{
		SessionID:     record.SessionID,
		Status:        record.State,
		Message:       record.Message,
		Transcription: record.Transcription,
		Error:         record.ErrorDetail,
		HasOutput:     record.HasOutput,
		CreatedAt:     formatTime(record.CreatedAt),
		CompletedAt:   formatTime(record.CompletedAt),
	}
}

// HealthResponse is returned by the health route
type HealthResponse struct {
	Status       string         `json:"status"`
	Service      string         `json:"service"`
	Timestamp    string         `json:"timestamp"`
	StorageReady bool           `json:"storage_ready"`
	HistoryReady *bool          `json:"history_ready,omitempty"`
	QueueDepth   int            `json:"queue_depth"`
	Sessions     int            `json:"sessions"`
	ByState      map[string]int `json:"sessions_by_status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
