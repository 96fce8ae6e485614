// Package speech provides the external transcription and synthesis engines.
package speech

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	ProviderOpenAI  = "openai"
	ProviderCommand = "command"
)

// Engine transcribes audio files and synthesizes text
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) ([]string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config selects and configures an engine provider
type Config struct {
	Provider string
	OpenAI   OpenAIConfig
	Command  CommandConfig
}

// NewEngine builds the engine for the configured provider
func NewEngine(cfg Config, logger *slog.Logger) (Engine, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg.OpenAI, logger)
	case ProviderCommand:
		return NewCommandEngine(cfg.Command, logger)
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Provider)
	}
}

// WarmUp synthesizes a short phrase to verify the engine is usable
func WarmUp(ctx context.Context, engine Engine, phrase string) error {
	audio, err := engine.Synthesize(ctx, phrase)
	if err != nil {
		return fmt.Errorf("speech engine warm-up failed: %w", err)
	}
	if len(audio) == 0 {
		return fmt.Errorf("speech engine warm-up produced no audio")
	}
	return nil
}
