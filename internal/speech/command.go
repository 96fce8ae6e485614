package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandConfig holds settings for locally installed speech binaries
type CommandConfig struct {
	WhisperPath  string
	WhisperModel string
	Language     string
	PiperPath    string
	PiperModel   string
}

// commandResult is the captured outcome of one process run
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution so engines can be tested without binaries
type commandRunner interface {
	Run(ctx context.Context, stdin string, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin string, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// CommandError reports a failed engine process
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if len(stderr) > 200 {
		stderr = stderr[len(stderr)-200:]
	}
	return fmt.Sprintf("%s exited with %d: %v: %s", e.Command, e.ExitCode, e.Err, stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CommandEngine runs whisper.cpp for transcription and piper for synthesis
type CommandEngine struct {
	config    CommandConfig
	runner    commandRunner
	logger    *slog.Logger
	mkdirTemp func(dir, pattern string) (string, error)
}

// NewCommandEngine creates an engine backed by local binaries
func NewCommandEngine(cfg CommandConfig, logger *slog.Logger) (*CommandEngine, error) {
	if cfg.WhisperPath == "" {
		cfg.WhisperPath = "whisper-cli"
	}
	if cfg.PiperPath == "" {
		cfg.PiperPath = "piper"
	}
	if cfg.WhisperModel == "" {
		return nil, errors.New("whisper model path is required")
	}
	if cfg.PiperModel == "" {
		return nil, errors.New("piper model path is required")
	}

	return &CommandEngine{
		config:    cfg,
		runner:    execRunner{},
		logger:    logger,
		mkdirTemp: os.MkdirTemp,
	}, nil
}

// Transcribe runs whisper.cpp on the audio file; every non-empty stdout line is a segment
func (e *CommandEngine) Transcribe(ctx context.Context, audioPath string) ([]string, error) {
	args := buildWhisperArgs(e.config.WhisperModel, audioPath, e.config.Language)

	result, err := e.runner.Run(ctx, "", e.config.WhisperPath, args...)
	if err != nil {
		return nil, &CommandError{Command: e.config.WhisperPath, ExitCode: result.ExitCode, Stderr: result.Stderr, Err: err}
	}

	var segments []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			segments = append(segments, line)
		}
	}

	e.logger.Debug("whisper.cpp transcription finished",
		slog.String("path", audioPath),
		slog.Int("segments", len(segments)),
	)

	return segments, nil
}

// Synthesize pipes text into piper and returns the WAV it writes
func (e *CommandEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	tempDir, err := e.mkdirTemp("", "speech-relay-piper-*")
	if err != nil {
		return nil, fmt.Errorf("create piper workspace: %w", err)
	}
	defer os.RemoveAll(tempDir)

	outPath := filepath.Join(tempDir, "speech.wav")
	args := []string{
		"--model", e.config.PiperModel,
		"--output_file", outPath,
	}

	result, err := e.runner.Run(ctx, text+"\n", e.config.PiperPath, args...)
	if err != nil {
		return nil, &CommandError{Command: e.config.PiperPath, ExitCode: result.ExitCode, Stderr: result.Stderr, Err: err}
	}

	audio, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("piper completed but output is missing: %w", err)
	}

	return audio, nil
}

// buildWhisperArgs prints plain text without timestamps or progress to stdout
func buildWhisperArgs(modelPath, audioPath, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-nt",
		"-np",
	}
	if lang := strings.TrimSpace(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}
