package domain

// SessionState is the lifecycle state of a submitted session
type SessionState string

// Session state constants
const (
	StateQueued         SessionState = "queued"
	StateProcessing     SessionState = "processing"
	StateCompleted      SessionState = "completed"
	StatePartialSuccess SessionState = "partial_success"
	StateFailed         SessionState = "failed"
	StateNotFound       SessionState = "not_found"
)

// Status messages reported alongside each state
const (
	MessageQueued         = "File received and queued for processing"
	MessageProcessing     = "Processing audio file"
	MessageCompleted      = "Processing complete"
	MessagePartialSuccess = "Transcription successful but TTS failed"
	MessageFailed         = "Processing failed"
	MessageNotFound       = "Session not found"
)

// IsTerminal reports whether no further transition may follow the state
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateCompleted, StatePartialSuccess, StateFailed:
		return true
	default:
		return false
	}
}

// DefaultMessage returns the human readable message for the state
func (s SessionState) DefaultMessage() string {
	switch s {
	case StateQueued:
		return MessageQueued
	case StateProcessing:
		return MessageProcessing
	case StateCompleted:
		return MessageCompleted
	case StatePartialSuccess:
		return MessagePartialSuccess
	case StateFailed:
		return MessageFailed
	default:
		return MessageNotFound
	}
}
