package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	webhookPath        = "/api"
	timestampTolerance = 5 * time.Minute
	failureLogInterval = time.Minute
	shutdownGrace      = 5 * time.Second
)

// WebhookOptions configures the shared inbound webhook listener.
type WebhookOptions struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKeyFile holds one bearer key per line; blank lines and #
	// comments are skipped. The file is reloaded when it changes.
	APIKeyFile string `yaml:"api_key_file"`
}

// webhookRequest is the expected POST body.
type webhookRequest struct {
	Target    string `json:"target"`
	Timestamp string `json:"timestamp"`
}

// WebhookServer is one HTTP listener shared by every webhook-triggered
// watcher. A valid request is acknowledged with 202 before the check
// runs; the firing goes through the coordinator's normal non-blocking
// pipeline, so a slow observer never stalls the listener.
type WebhookServer struct {
	addr    string
	keyFile string
	logger  zerolog.Logger

	mu         sync.RWMutex
	targets    map[string]FireFunc
	keys       map[string]struct{}
	keysLoaded time.Time

	failMu   sync.Mutex
	failures map[string]int
	lastLog  time.Time

	now func() time.Time
}

// NewWebhookServer builds the listener. Keys are loaded on first
// request; a missing key file rejects everything.
func NewWebhookServer(opts WebhookOptions, logger zerolog.Logger) (*WebhookServer, error) {
	if opts.Port == 0 {
		return nil, errors.New("webhook trigger: port is required")
	}
	if opts.APIKeyFile == "" {
		return nil, errors.New("webhook trigger: api_key_file is required")
	}
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return &WebhookServer{
		addr:     net.JoinHostPort(host, fmt.Sprintf("%d", opts.Port)),
		keyFile:  opts.APIKeyFile,
		logger:   logger.With().Str("trigger", "webhook").Logger(),
		targets:  make(map[string]FireFunc),
		keys:     make(map[string]struct{}),
		failures: make(map[string]int),
		lastLog:  time.Now(),
		now:      time.Now,
	}, nil
}

// Register exposes a watcher as a webhook target.
func (s *WebhookServer) Register(name string, fire FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[name] = fire
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *WebhookServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(webhookPath, s.handleTrigger)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.addr).Msg("Webhook listener started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook listener: %w", err)
	case <-ctx.Done():
	}

	s.flushFailureLog(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// handleTrigger implements the wire contract: 202 on valid auth and
// known target, 401 on bad key or stale timestamp, 404 on unknown
// target. The response is written before the check runs.
func (s *WebhookServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)

	if r.Method != http.MethodPost {
		s.recordFailure(clientIP)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r.Header.Get("Authorization")) {
		s.recordFailure(clientIP)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Target == "" {
		s.recordFailure(clientIP)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !s.timestampFresh(req.Timestamp) {
		s.recordFailure(clientIP)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.RLock()
	fire, ok := s.targets[req.Target]
	s.mu.RUnlock()
	if !ok {
		s.recordFailure(clientIP)
		http.Error(w, "unknown target", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	s.logger.Info().Str("target", req.Target).Str("client", clientIP).Msg("Webhook accepted")
	fire()
}

// authorized checks the bearer token against the key file, reloading
// the file when it changed on disk.
func (s *WebhookServer) authorized(header string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}

	s.mu.Lock()
	if err := s.reloadKeysLocked(); err != nil {
		s.logger.Warn().Err(err).Str("file", s.keyFile).Msg("Could not load API keys")
	}
	_, valid := s.keys[token]
	s.mu.Unlock()
	return valid
}

func (s *WebhookServer) reloadKeysLocked() error {
	fi, err := os.Stat(s.keyFile)
	if err != nil {
		s.keys = map[string]struct{}{}
		return err
	}
	if !fi.ModTime().After(s.keysLoaded) && len(s.keys) > 0 {
		return nil
	}

	data, err := os.ReadFile(s.keyFile)
	if err != nil {
		s.keys = map[string]struct{}{}
		return err
	}

	keys := make(map[string]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys[line] = struct{}{}
	}
	s.keys = keys
	s.keysLoaded = fi.ModTime()
	s.logger.Debug().Int("keys", len(keys)).Msg("API keys loaded")
	return nil
}

// timestampFresh enforces replay protection: the request timestamp
// must be RFC3339 and within the tolerance window of now.
func (s *WebhookServer) timestampFresh(ts string) bool {
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return false
	}
	delta := s.now().Sub(parsed)
	if delta < 0 {
		delta = -delta
	}
	return delta <= timestampTolerance
}

// recordFailure counts rejected requests per client and logs a summary
// at most once per interval, so a scanning bot cannot flood the log.
func (s *WebhookServer) recordFailure(clientIP string) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures[clientIP]++
	s.flushFailureLogLocked(false)
}

func (s *WebhookServer) flushFailureLog(force bool) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.flushFailureLogLocked(force)
}

func (s *WebhookServer) flushFailureLogLocked(force bool) {
	now := s.now()
	if !force && now.Sub(s.lastLog) < failureLogInterval {
		return
	}
	if len(s.failures) > 0 {
		total := 0
		for _, n := range s.failures {
			total += n
		}
		s.logger.Warn().
			Int("rejected", total).
			Int("clients", len(s.failures)).
			Dur("window", now.Sub(s.lastLog)).
			Msg("Webhook requests rejected")
		s.failures = make(map[string]int)
	}
	s.lastLog = now
}
