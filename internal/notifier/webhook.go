package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// WebhookOptions configures outbound webhook delivery.
type WebhookOptions struct {
	URL string `yaml:"url"`
	// Method is POST or PUT (default POST).
	Method string `yaml:"method"`
	// Headers are added to every request; values accept "env:NAME".
	Headers map[string]string `yaml:"headers"`
}

// webhookPayload is the JSON body sent to the receiver.
type webhookPayload struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp"`
}

// Webhook delivers alerts as JSON to an HTTP endpoint.
type Webhook struct {
	name    string
	url     string
	method  string
	headers map[string]string
	client  *http.Client
	logger  zerolog.Logger
}

// NewWebhook validates the target and builds the notifier.
func NewWebhook(name string, opts WebhookOptions, logger zerolog.Logger) (*Webhook, error) {
	if opts.URL == "" {
		return nil, errors.New("webhook notifier: url is required")
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost && method != http.MethodPut {
		return nil, fmt.Errorf("webhook notifier: unsupported method %q", opts.Method)
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = resolveSecret(v)
	}
	return &Webhook{
		name:    name,
		url:     opts.URL,
		method:  method,
		headers: headers,
		client:  &http.Client{Timeout: sendTimeout},
		logger:  logger.With().Str("notifier", name).Logger(),
	}, nil
}

func (w *Webhook) Name() string { return w.name }

// Send posts the alert JSON, retrying once on failure.
func (w *Webhook) Send(ctx context.Context, title, message string, severity types.Severity) error {
	body, err := json.Marshal(webhookPayload{
		Title:     title,
		Message:   message,
		Severity:  string(severity),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		if lastErr = w.post(ctx, body); lastErr == nil {
			w.logger.Info().Str("url", w.url).Msg("Webhook notification sent")
			return nil
		}
		w.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("Webhook delivery failed")
	}
	return fmt.Errorf("webhook delivery: %w", lastErr)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
