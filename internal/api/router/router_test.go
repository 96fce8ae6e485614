package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/speech-relay/internal/api/dto"
	"github.com/cuongbtq/speech-relay/internal/api/handler"
	"github.com/cuongbtq/speech-relay/internal/relay"
	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/cuongbtq/speech-relay/internal/worker/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	submitted   []byte
	filename    string
	submitErr   error
	statuses    map[string]domain.SessionStatus
	outputs     map[string][]byte
	outputErr   error
	history     *relay.HistoryPage
	historyErr  error
	lastFilter  storage.HistoryFilter
	health      relay.Health
	submitCalls int
}

func (f *fakeService) Submit(ctx context.Context, data []byte, filename string) (string, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = data
	f.filename = filename
	return "3b241101-e2bb-4255-8caf-4136c566a962", nil
}

func (f *fakeService) GetStatus(sessionID string) domain.SessionStatus {
	if s, ok := f.statuses[sessionID]; ok {
		return s
	}
	return domain.NotFoundStatus(sessionID)
}

func (f *fakeService) ConsumeOutput(sessionID string) ([]byte, error) {
	if f.outputErr != nil {
		return nil, f.outputErr
	}
	data, ok := f.outputs[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (f *fakeService) History(ctx context.Context, filter storage.HistoryFilter) (*relay.HistoryPage, error) {
	f.lastFilter = filter
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func (f *fakeService) Health(ctx context.Context) relay.Health {
	return f.health
}

func newTestRouter(svc *fakeService, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(&handler.Dependencies{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Service:        svc,
		ServiceName:    "speech-relay",
		MaxUploadBytes: maxUpload,
	})
}

func multipartRequest(t *testing.T, path, field, filename string, content []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitRoutes(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		field      string
		wantCode   int
		wantStatus string
	}{
		{name: "v1 with audio field", path: "/api/v1/sessions", field: "audio", wantCode: http.StatusOK, wantStatus: "queued"},
		{name: "v1 with file field", path: "/api/v1/sessions", field: "file", wantCode: http.StatusOK, wantStatus: "queued"},
		{name: "predict", path: "/predict", field: "audio", wantCode: http.StatusOK, wantStatus: "queued"},
		{name: "upload", path: "/api/upload", field: "file", wantCode: http.StatusOK, wantStatus: "success"},
		{name: "predict with wrong field", path: "/predict", field: "file", wantCode: http.StatusBadRequest},
		{name: "upload with wrong field", path: "/api/upload", field: "audio", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			r := newTestRouter(svc, 1<<20)

			w := serve(r, multipartRequest(t, tt.path, tt.field, "clip.m4a", []byte("RIFF-audio")))

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				assert.Equal(t, 0, svc.submitCalls)
				return
			}

			var resp dto.SubmitResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, domain.MessageQueued, resp.Message)
			assert.NotEmpty(t, resp.SessionID)
			assert.Equal(t, []byte("RIFF-audio"), svc.submitted)
			assert.Equal(t, "clip.m4a", svc.filename)
		})
	}
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name      string
		submitErr error
		content   []byte
		maxUpload int64
		wantCode  int
	}{
		{name: "queue full", submitErr: domain.ErrQueueFull, content: []byte("a"), wantCode: http.StatusServiceUnavailable},
		{name: "empty audio", submitErr: domain.ErrEmptyAudio, content: []byte("a"), wantCode: http.StatusBadRequest},
		{name: "storage failure", submitErr: &domain.StorageError{Op: "write", Err: errors.New("disk full")}, content: []byte("a"), wantCode: http.StatusInternalServerError},
		{name: "too large", content: bytes.Repeat([]byte("a"), 32), maxUpload: 16, wantCode: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{submitErr: tt.submitErr}
			maxUpload := tt.maxUpload
			if maxUpload == 0 {
				maxUpload = 1 << 20
			}
			r := newTestRouter(svc, maxUpload)

			w := serve(r, multipartRequest(t, "/api/v1/sessions", "audio", "a.wav", tt.content))

			assert.Equal(t, tt.wantCode, w.Code)
			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestSubmit_NotMultipart(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString(`{"audio":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, svc.submitCalls)
}

func TestGetSession(t *testing.T) {
	text := "hello world"
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &fakeService{statuses: map[string]domain.SessionStatus{
		"done": {
			SessionID:     "done",
			State:         domain.StateCompleted,
			Message:       domain.MessageCompleted,
			Transcription: &text,
			OutputRef:     "tts_done.wav",
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		"partial": {
			SessionID:     "partial",
			State:         domain.StatePartialSuccess,
			Message:       domain.MessagePartialSuccess,
			Transcription: &text,
			ErrorDetail:   "synthesis failed: tts down",
		},
	}}
	r := newTestRouter(svc, 1<<20)

	tests := []struct {
		name      string
		path      string
		wantState string
		wantURL   string
		wantError string
	}{
		{name: "completed", path: "/api/v1/sessions/done", wantState: "completed", wantURL: "/api/v1/sessions/done/audio"},
		{name: "partial", path: "/api/v1/sessions/partial", wantState: "partial_success", wantError: "synthesis failed: tts down"},
		{name: "unknown", path: "/api/v1/sessions/nope", wantState: "not_found"},
		{name: "legacy route", path: "/status/done", wantState: "completed", wantURL: "/api/v1/sessions/done/audio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, httptest.NewRequest(http.MethodGet, tt.path, nil))

			require.Equal(t, http.StatusOK, w.Code)
			var resp dto.StatusResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantState, resp.Status)
			assert.Equal(t, tt.wantURL, resp.AudioURL)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/done", nil))
	assert.Contains(t, w.Body.String(), `"tts_audio_url":"/api/v1/sessions/done/audio"`)
	assert.NotContains(t, w.Body.String(), "tts_done.wav")
}

func TestGetAudio(t *testing.T) {
	svc := &fakeService{outputs: map[string][]byte{"abc": []byte("RIFF-out")}}
	r := newTestRouter(svc, 1<<20)

	for _, path := range []string{"/api/v1/sessions/abc/audio", "/tts_audio/tts_abc.wav"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "tts_abc.wav")
		assert.Equal(t, "RIFF-out", w.Body.String())
	}

	for _, path := range []string{"/api/v1/sessions/missing/audio", "/tts_audio/tts_missing.wav", "/tts_audio/other.wav"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	svc.outputErr = &domain.StorageError{Op: "read output", Err: errors.New("io")}
	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/abc/audio", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListHistory(t *testing.T) {
	completedAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	text := "hi"
	svc := &fakeService{history: &relay.HistoryPage{
		Sessions: []domain.SessionRecord{{
			SessionID:     "s1",
			State:         "completed",
			Message:       domain.MessageCompleted,
			Transcription: &text,
			HasOutput:     true,
			CreatedAt:     completedAt.Add(-time.Minute),
			CompletedAt:   completedAt,
		}},
		Next: &storage.HistoryCursor{CompletedAt: completedAt, SessionID: "s1"},
	}}
	r := newTestRouter(svc, 1<<20)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/history?status=completed&page_size=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "s1", resp.Sessions[0].SessionID)
	assert.Equal(t, "2026-02-01T09:00:00Z", resp.Sessions[0].CompletedAt)
	assert.Equal(t, "completed", svc.lastFilter.State)
	assert.Equal(t, 1, svc.lastFilter.PageSize)
	require.NotEmpty(t, resp.NextCursor)

	// The returned cursor is accepted on the next request
	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/history?cursor="+resp.NextCursor, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastFilter.Cursor)
	assert.Equal(t, "s1", svc.lastFilter.Cursor.SessionID)
	assert.True(t, completedAt.Equal(svc.lastFilter.Cursor.CompletedAt))
}

func TestListHistory_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		historyErr error
		wantCode   int
	}{
		{name: "non terminal status", query: "?status=queued", wantCode: http.StatusBadRequest},
		{name: "bad page size", query: "?page_size=abc", wantCode: http.StatusBadRequest},
		{name: "bad cursor", query: "?cursor=%21%21", wantCode: http.StatusBadRequest},
		{name: "disabled", historyErr: relay.ErrHistoryDisabled, wantCode: http.StatusNotFound},
		{name: "database error", historyErr: errors.New("db down"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{historyErr: tt.historyErr, history: &relay.HistoryPage{}}
			r := newTestRouter(svc, 1<<20)

			w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/history"+tt.query, nil))
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	svc := &fakeService{health: relay.Health{
		StorageReady: true,
		QueueDepth:   2,
		Sessions:     3,
		ByState:      map[domain.SessionState]int{domain.StateQueued: 2, domain.StateCompleted: 1},
	}}
	r := newTestRouter(svc, 1<<20)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "speech-relay", resp.Service)
	assert.Equal(t, 2, resp.QueueDepth)
	assert.Equal(t, 2, resp.ByState["queued"])

	svc.health.StorageReady = false
	w = serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	historyDown := false
	svc.health.StorageReady = true
	svc.health.HistoryReady = &historyDown
	w = serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"history_ready":false`)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(&fakeService{}, 1<<20)

	w := serve(r, httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
