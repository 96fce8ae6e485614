package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session or artifact does not exist or already expired
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSession is returned when a status record already exists for a session id
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrInvalidTransition is returned when a session cannot move to the requested state
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrQueueFull is returned when the job queue cannot accept another job
	ErrQueueFull = errors.New("job queue is full")

	// ErrQueueClosed is returned when enqueueing after the queue was closed
	ErrQueueClosed = errors.New("job queue is closed")

	// ErrEmptyAudio is returned when a submission carries no audio bytes
	ErrEmptyAudio = errors.New("audio payload is empty")

	// ErrEmptyText is returned when synthesis is requested for blank text
	ErrEmptyText = errors.New("text to synthesize is empty")
)

// StorageError wraps disk I/O failures of the file store
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// TranscriptionError wraps a failure of the speech-to-text stage
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return "transcription failed: " + e.Err.Error()
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// SynthesisError wraps a failure of the text-to-speech stage
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return "synthesis failed: " + e.Err.Error()
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
