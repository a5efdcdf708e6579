package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Webhook posts structured messages to a configured endpoint. Delivery is
// best-effort: every failure is logged and reported as false, never as an
// error the caller has to handle.
type Webhook struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhook(endpoint string, logger *slog.Logger) *Webhook {
	return &Webhook{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SetHTTPClient overrides the transport, for tests.
func (w *Webhook) SetHTTPClient(client *http.Client) {
	if client != nil {
		w.httpClient = client
	}
}

// Enabled reports whether an endpoint is configured.
func (w *Webhook) Enabled() bool {
	return w.endpoint != ""
}

func (w *Webhook) Send(payload any) bool {
	if w.endpoint == "" {
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Warn("notification marshal failed", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("notification request build failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Warn("notification send failed", "endpoint", w.endpoint, "error", err)
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.logger.Warn("notification rejected", "endpoint", w.endpoint, "status", resp.StatusCode)
		return false
	}
	return true
}
