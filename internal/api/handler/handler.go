package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/speech-relay/internal/relay"
	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/cuongbtq/speech-relay/internal/worker/storage"
)

// RelayService is the submission surface used by the handlers
type RelayService interface {
	Submit(ctx context.Context, data []byte, filename string) (string, error)
	GetStatus(sessionID string) domain.SessionStatus
	ConsumeOutput(sessionID string) ([]byte, error)
	History(ctx context.Context, filter storage.HistoryFilter) (*relay.HistoryPage, error)
	Health(ctx context.Context) relay.Health
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Service        RelayService
	ServiceName    string
	MaxUploadBytes int64
}

// SessionHandler handles session-related HTTP requests
type SessionHandler struct {
	logger         *slog.Logger
	service        RelayService
	serviceName    string
	maxUploadBytes int64
}

// NewSessionHandler creates a new SessionHandler instance
func NewSessionHandler(deps *Dependencies) *SessionHandler {
	return &SessionHandler{
		logger:         deps.Logger,
		service:        deps.Service,
		serviceName:    deps.ServiceName,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}
