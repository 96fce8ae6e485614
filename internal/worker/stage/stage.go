// Package stage wraps the external speech capabilities into the two pipeline stages.
package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
)

// Transcriber turns a stored audio file into text segments
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]string, error)
}

// Synthesizer turns text into encoded audio bytes
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// OutputWriter persists generated audio and returns an opaque reference to it
type OutputWriter interface {
	WriteOutput(sessionID string, data []byte) (string, error)
}

// Transcription is the speech-to-text stage
type Transcription struct {
	engine  Transcriber
	timeout time.Duration
}

// NewTranscription creates the transcription stage. A zero timeout disables the cap.
func NewTranscription(engine Transcriber, timeout time.Duration) *Transcription {
	return &Transcription{engine: engine, timeout: timeout}
}

// Run transcribes the audio at path. Segments are trimmed and joined with single spaces.
func (t *Transcription) Run(ctx context.Context, audioPath string) (string, error) {
	segments, err := callWithTimeout(ctx, t.timeout, func(ctx context.Context) ([]string, error) {
		return t.engine.Transcribe(ctx, audioPath)
	})
	if err != nil {
		return "", &domain.TranscriptionError{Err: err}
	}

	return JoinSegments(segments), nil
}

// Synthesis is the text-to-speech stage
type Synthesis struct {
	engine  Synthesizer
	outputs OutputWriter
	timeout time.Duration
}

// NewSynthesis creates the synthesis stage. A zero timeout disables the cap.
func NewSynthesis(engine Synthesizer, outputs OutputWriter, timeout time.Duration) *Synthesis {
	return &Synthesis{engine: engine, outputs: outputs, timeout: timeout}
}

// Run synthesizes text for the session and returns a reference to the stored artifact
func (s *Synthesis) Run(ctx context.Context, sessionID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", &domain.SynthesisError{Err: domain.ErrEmptyText}
	}

	audio, err := callWithTimeout(ctx, s.timeout, func(ctx context.Context) ([]byte, error) {
		return s.engine.Synthesize(ctx, text)
	})
	if err != nil {
		return "", &domain.SynthesisError{Err: err}
	}
	if len(audio) == 0 {
		return "", &domain.SynthesisError{Err: errors.New("engine returned no audio")}
	}

	ref, err := s.outputs.WriteOutput(sessionID, audio)
	if err != nil {
		return "", &domain.SynthesisError{Err: fmt.Errorf("store output: %w", err)}
	}

	return ref, nil
}

// JoinSegments trims every segment and joins the non-empty ones with single spaces
func JoinSegments(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		if trimmed := strings.TrimSpace(segment); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

type result[T any] struct {
	value T
	err   error
}

// callWithTimeout runs fn under a deadline. An engine that ignores its context
// still releases the caller when the deadline passes.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan result[T], 1)
	go func() {
		value, err := fn(ctx)
		done <- result[T]{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("stage timed out after %s: %w", timeout, ctx.Err())
		}
		return zero, fmt.Errorf("stage aborted: %w", ctx.Err())
	}
}
