package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentid-dev/agentid-core/pkg/metrics"
)

const (
	// HeaderEventID carries the event id.
	HeaderEventID = "X-AgentID-Event-ID"
	// HeaderEventType carries the event type.
	HeaderEventType = "X-AgentID-Event-Type"
	// HeaderSignature carries the hex HMAC-SHA256 of the body.
	HeaderSignature = "X-AgentID-Signature"
)

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL string

	// Secret keys the body signature. Empty disables signing.
	Secret string

	// Events filters delivered types; empty or "*" delivers everything.
	Events []string

	// MaxRetries is the number of delivery attempts (default: 3).
	MaxRetries int

	// Backoff is the base linear backoff between attempts (default: 1s).
	Backoff time.Duration

	// Timeout bounds each HTTP request (default: 5s).
	Timeout time.Duration
}

// WebhookSink POSTs events as JSON with retries.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookSink validates cfg and creates the sink.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &WebhookSink{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Emit implements Sink. Client errors (4xx) are not retried.
func (w *WebhookSink) Emit(ctx context.Context, ev Event) error {
	if !w.wants(ev.Type) {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for i := 0; i < w.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * w.cfg.Backoff):
			}
		}

		retry, err := w.send(ctx, ev, body)
		if err == nil {
			metrics.NotificationsTotal.WithLabelValues("webhook", "ok").Inc()
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	metrics.NotificationsTotal.WithLabelValues("webhook", "error").Inc()
	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}

func (w *WebhookSink) send(ctx context.Context, ev Event, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agentid-notifier/1.0")
	req.Header.Set(HeaderEventID, ev.ID)
	req.Header.Set(HeaderEventType, ev.Type)
	if w.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(w.cfg.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	err = fmt.Errorf("webhook responded with status: %d", resp.StatusCode)
	return resp.StatusCode >= 500, err
}

func (w *WebhookSink) wants(typ string) bool {
	if len(w.cfg.Events) == 0 {
		return true
	}
	for _, e := range w.cfg.Events {
		if e == "*" || e == typ {
			return true
		}
	}
	return false
}
