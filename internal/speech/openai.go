package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds OpenAI audio API settings
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	Language           string
	SpeechModel        string
	Voice              string
	ResponseFormat     string
}

// OpenAIClient transcribes with Whisper and synthesizes with the speech endpoint
type OpenAIClient struct {
	client *openai.Client
	config OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIClient creates a client for the OpenAI audio endpoints
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = string(openai.SpeechResponseFormatWav)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		logger: logger,
	}, nil
}

// Transcribe sends the audio file to the transcription endpoint and returns its segments
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string) ([]string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.config.TranscriptionModel,
		FilePath: audioPath,
		Language: c.config.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	c.logger.Debug("OpenAI transcription finished",
		slog.String("model", c.config.TranscriptionModel),
		slog.Int("segments", len(resp.Segments)),
		slog.Float64("duration_seconds", resp.Duration),
	)

	if len(resp.Segments) == 0 {
		if resp.Text == "" {
			return nil, nil
		}
		return []string{resp.Text}, nil
	}

	segments := make([]string, 0, len(resp.Segments))
	for _, segment := range resp.Segments {
		segments = append(segments, segment.Text)
	}
	return segments, nil
}

// Synthesize renders text with the speech endpoint and returns the encoded audio
func (c *OpenAIClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.config.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.config.Voice),
		ResponseFormat: openai.SpeechResponseFormat(c.config.ResponseFormat),
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read openai speech response: %w", err)
	}

	c.logger.Debug("OpenAI speech finished",
		slog.String("model", c.config.SpeechModel),
		slog.Int("bytes", len(audio)),
	)

	return audio, nil
}
