package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/speech-relay/internal/api/dto"
	"github.com/cuongbtq/speech-relay/internal/relay"
	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/cuongbtq/speech-relay/internal/worker/storage"
	"github.com/gin-gonic/gin"
)

const (
	messageNoAudio  = "No audio file received"
	messageNotFound = "File not found or expired"

	// multipartOverhead is the body allowance on top of the upload limit for form framing
	multipartOverhead = 1 << 20
)

// CreateSession handles POST /api/v1/sessions
// Accepts the audio under the "audio" or "file" form field and queues it
func (h *SessionHandler) CreateSession(c *gin.Context) {
	h.submit(c, string(domain.StateQueued), "audio", "file")
}

// Predict handles POST /predict, the original upload route (field "audio")
func (h *SessionHandler) Predict(c *gin.Context) {
	h.submit(c, string(domain.StateQueued), "audio")
}

// Upload handles POST /api/upload, the original upload route (field "file")
func (h *SessionHandler) Upload(c *gin.Context) {
	h.submit(c, "success", "file")
}

func (h *SessionHandler) submit(c *gin.Context, okStatus string, fields ...string) {
	h.logger.Info("Submit called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	// 1. Find the uploaded file
	header, err := formFile(c, fields)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectTooLarge(c)
			return
		}
		h.logger.Error("No audio file in request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: messageNoAudio})
		return
	}

	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		h.rejectTooLarge(c)
		return
	}

	// 2. Read it
	data, err := readFormFile(header)
	if err != nil {
		h.logger.Error("Failed to read upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: messageNoAudio})
		return
	}

	// 3. Queue it
	sessionID, err := h.service.Submit(c.Request.Context(), data, header.Filename)
	if err != nil {
		h.logger.Error("Failed to submit audio",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, domain.ErrEmptyAudio):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: messageNoAudio})
		case errors.Is(err, domain.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Processing queue is full, try again later"})
		default:
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Processing failed"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.SubmitResponse{
		Status:    okStatus,
		Message:   domain.MessageQueued,
		SessionID: sessionID,
	})
}

func (h *SessionHandler) rejectTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
		Error: fmt.Sprintf("Audio file exceeds %d bytes", h.maxUploadBytes),
	})
}

func formFile(c *gin.Context, fields []string) (*multipart.FileHeader, error) {
	var lastErr error
	for _, field := range fields {
		header, err := c.FormFile(field)
		if err == nil {
			return header, nil
		}
		lastErr = err
		// A broken body will not get better on the next field
		if !errors.Is(err, http.ErrMissingFile) {
			break
		}
	}
	return nil, lastErr
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// GetSession handles GET /api/v1/sessions/:session_id and GET /status/:session_id
// Always answers 200; unknown or expired sessions report status not_found
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	status := h.service.GetStatus(sessionID)
	c.JSON(http.StatusOK, dto.NewStatusResponse(status, audioURL(sessionID)))
}

// GetAudio handles GET /api/v1/sessions/:session_id/audio
func (h *SessionHandler) GetAudio(c *gin.Context) {
	h.serveAudio(c, c.Param("session_id"))
}

// GetLegacyAudio handles GET /tts_audio/:filename where filename is tts_<session_id>.wav
func (h *SessionHandler) GetLegacyAudio(c *gin.Context) {
	filename := c.Param("filename")
	sessionID := strings.TrimSuffix(strings.TrimPrefix(filename, "tts_"), ".wav")
	if sessionID == filename || sessionID == "" {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: messageNotFound})
		return
	}
	h.serveAudio(c, sessionID)
}

func (h *SessionHandler) serveAudio(c *gin.Context, sessionID string) {
	data, err := h.service.ConsumeOutput(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("Audio not found or expired", slog.String("session_id", sessionID))
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: messageNotFound})
			return
		}
		h.logger.Error("Failed to read audio",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to read audio"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="tts_%s.wav"`, sessionID))
	c.Data(http.StatusOK, "audio/wav", data)
}

// ListHistory handles GET /api/v1/history
// Lists archived sessions newest first with cursor pagination
func (h *SessionHandler) ListHistory(c *gin.Context) {
	// 1. Parse query parameters
	var req dto.ListHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	// 2. Validate parameters
	if req.Status != "" && !domain.SessionState(req.Status).IsTerminal() {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "status must be one of completed, partial_success, failed",
		})
		return
	}

	cursor, err := DecodeHistoryCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	// 3. Query the archive
	page, err := h.service.History(c.Request.Context(), storage.HistoryFilter{
		State:    req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		if errors.Is(err, relay.ErrHistoryDisabled) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Session history is disabled"})
			return
		}
		h.logger.Error("Failed to list history", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list history"})
		return
	}

	// 4. Build the response
	resp := dto.ListHistoryResponse{
		Sessions:   make([]dto.HistoryDTO, 0, len(page.Sessions)),
		NextCursor: EncodeHistoryCursor(page.Next),
	}
	for _, record := range page.Sessions {
		resp.Sessions = append(resp.Sessions, dto.NewHistoryDTO(record))
	}

	c.JSON(http.StatusOK, resp)
}

// Health handles GET /health
func (h *SessionHandler) Health(c *gin.Context) {
	health := h.service.Health(c.Request.Context())

	byState := make(map[string]int, len(health.ByState))
	for state, n := range health.ByState {
		byState[string(state)] = n
	}

	status := "ok"
	code := http.StatusOK
	if !health.StorageReady || (health.HistoryReady != nil && !*health.HistoryReady) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, dto.HealthResponse{
		Status:       status,
		Service:      h.serviceName,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		StorageReady: health.StorageReady,
		HistoryReady: health.HistoryReady,
		QueueDepth:   health.QueueDepth,
		Sessions:     health.Sessions,
		ByState:      byState,
	})
}

func audioURL(sessionID string) string {
	return "/api/v1/sessions/" + sessionID + "/audio"
}
