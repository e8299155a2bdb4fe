package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

const pushoverAPIURL = "https://api.pushover.net/1/messages.json"

// severityToPriority maps alert severity to Pushover priority levels.
var severityToPriority = map[types.Severity]int{
	types.SeverityLow:      -1,
	types.SeverityMedium:   0,
	types.SeverityHigh:     1,
	types.SeverityCritical: 2,
}

// PushoverOptions configures Pushover delivery. UserKey and APIToken
// accept "env:NAME" references.
type PushoverOptions struct {
	UserKey  string `yaml:"user_key"`
	APIToken string `yaml:"api_token"`
}

// Pushover delivers alerts through the Pushover push API.
type Pushover struct {
	name     string
	userKey  string
	apiToken string
	apiURL   string
	client   *http.Client
	logger   zerolog.Logger
}

// NewPushover resolves credentials and builds the notifier.
func NewPushover(name string, opts PushoverOptions, logger zerolog.Logger) (*Pushover, error) {
	userKey := resolveSecret(opts.UserKey)
	apiToken := resolveSecret(opts.APIToken)
	if userKey == "" || apiToken == "" {
		return nil, errors.New("pushover notifier: user_key and api_token are required")
	}
	return &Pushover{
		name:     name,
		userKey:  userKey,
		apiToken: apiToken,
		apiURL:   pushoverAPIURL,
		client:   &http.Client{Timeout: sendTimeout},
		logger:   logger.With().Str("notifier", name).Logger(),
	}, nil
}

func (p *Pushover) Name() string { return p.name }

// Send posts the alert, retrying once on failure. Critical severity
// maps to Pushover's emergency priority, which requires retry/expire.
func (p *Pushover) Send(ctx context.Context, title, message string, severity types.Severity) error {
	priority := severityToPriority[severity]

	form := url.Values{}
	form.Set("token", p.apiToken)
	form.Set("user", p.userKey)
	form.Set("title", title)
	form.Set("message", message)
	form.Set("priority", strconv.Itoa(priority))
	if priority == 2 {
		form.Set("retry", "30")
		form.Set("expire", "3600")
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
		if lastErr = p.post(ctx, form); lastErr == nil {
			p.logger.Info().Str("title", title).Msg("Pushover notification sent")
			return nil
		}
		p.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("Pushover delivery failed")
	}
	return fmt.Errorf("pushover delivery: %w", lastErr)
}

func (p *Pushover) post(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushover API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
