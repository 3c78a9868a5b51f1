// Package notify posts operator notifications to a configured webhook.
// Delivery is best-effort: failures are logged and dropped, never surfaced
// to the request path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/burncloud/burncloud-router/internal/obslog"
)

// Sink posts JSON payloads to one webhook URL. An empty URL disables it.
type Sink struct {
	url    string
	client *http.Client
}

func New(url string) *Sink {
	return &Sink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Post fires one notification in the background; callers never wait on it.
func (s *Sink) Post(ctx context.Context, message string) {
	if s.url == "" {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"text": message,
		"ts":   time.Now().Unix(),
	})
	go func() {
		req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, s.url, bytes.NewReader(payload))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			obslog.Logger.Warn("webhook post failed", zap.Error(err))
			return
		}
		resp.Body.Close()
	}()
}
