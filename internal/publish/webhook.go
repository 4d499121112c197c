package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aceteam-ai/nosana-monitor/internal/status"
)

// WebhookPublisher POSTs snapshots and transitions to an HTTP endpoint.
//
//	nosana-monitor                          receiver
//	┌─────────────┐    POST <webhook url>   ┌─────────────┐
//	│   Webhook   │ ──────────────────────▶ │  automation │
//	│  Publisher  │ ◀────────────────────── │  endpoint   │
//	└─────────────┘          2xx            └─────────────┘
type WebhookPublisher struct {
	endpoint   string
	token      string
	eventsOnly bool
	userAgent  string
	httpClient *http.Client
	logFn      func(level, msg string)
}

// WebhookConfig holds configuration for the webhook publisher.
type WebhookConfig struct {
	// URL receives every POST
	URL string

	// Token is sent as a bearer token when set
	Token string

	// EventsOnly skips snapshots and posts transitions only
	EventsOnly bool

	// Timeout is the HTTP request timeout (default: 10s)
	Timeout time.Duration

	// UserAgent is sent with every request (optional)
	UserAgent string

	// LogFn is an optional callback for logging (nil means silent)
	LogFn func(level, msg string)
}

// NewWebhookPublisher creates a new webhook publisher.
func NewWebhookPublisher(cfg WebhookConfig) (*WebhookPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &WebhookPublisher{
		endpoint:   cfg.URL,
		token:      cfg.Token,
		eventsOnly: cfg.EventsOnly,
		userAgent:  cfg.UserAgent,
		logFn:      cfg.LogFn,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

func (w *WebhookPublisher) log(level, format string, args ...any) {
	if w.logFn != nil {
		w.logFn(level, fmt.Sprintf(format, args...))
	}
}

// PublishSnapshot posts a snapshot event unless the publisher is events-only.
func (w *WebhookPublisher) PublishSnapshot(ctx context.Context, snap *status.NodeSnapshot) error {
	if w.eventsOnly {
		return nil
	}
	return w.post(ctx, status.Event{Type: status.EventSnapshot, Snapshot: snap})
}

// PublishTransition posts a transition event.
func (w *WebhookPublisher) PublishTransition(ctx context.Context, tr status.Transition) error {
	w.log("debug", "webhook: %s %s -> %s", tr.Address, tr.From, tr.To)
	return w.post(ctx, status.Event{Type: status.EventTransition, Transition: &tr})
}

func (w *WebhookPublisher) post(ctx context.Context, event status.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Endpoint returns the configured webhook URL.
func (w *WebhookPublisher) Endpoint() string {
	return w.endpoint
}
