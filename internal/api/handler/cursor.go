package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/speech-relay/internal/worker/storage"
)

func DecodeHistoryCursor(cursorStr string) (*storage.HistoryCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var completedAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &completedAt); err != nil {
		return nil, fmt.Errorf("invalid completedAt in cursor: %w", err)
	}

	return &storage.HistoryCursor{
		CompletedAt: time.Unix(0, completedAt).UTC(),
		SessionID:   parts[1],
	}, nil
}

func EncodeHistoryCursor(cursor *storage.HistoryCursor) string {
	if cursor == nil {
		return ""
	}
	cs := fmt.Sprintf("%d|%s", cursor.CompletedAt.UnixNano(), cursor.SessionID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
