package observer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// Run states reported by the service observer.
const (
	StateRunning = "running"
	StateStopped = "stopped"
	StateFailed  = "failed"
	StateUnknown = "unknown"
)

// ServiceOptions configures a service run-state check.
type ServiceOptions struct {
	// Check is "systemd" (unit state via systemctl) or "process"
	// (name substring in the process table).
	Check string `yaml:"check"`
	// Name is the unit or process name.
	Name string `yaml:"name"`
	// TimeoutSeconds bounds the status query.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// runCommand executes a status query and returns its stdout. Overridable
// in tests.
type runCommand func(ctx context.Context, name string, args ...string) (string, error)

// Service resolves the current run state of a systemd unit or process.
// Query failures map to the "unknown" state, never to an error.
type Service struct {
	opts    ServiceOptions
	timeout time.Duration
	run     runCommand
	logger  zerolog.Logger
}

// NewService builds a service observer, validating the check kind.
func NewService(opts ServiceOptions, logger zerolog.Logger) (*Service, error) {
	if opts.Check != "systemd" && opts.Check != "process" {
		return nil, fmt.Errorf("service observer: check must be \"systemd\" or \"process\", got %q", opts.Check)
	}
	if opts.Name == "" {
		return nil, errors.New("service observer: name is required")
	}

	timeout := defaultProbeTimeout
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	return &Service{
		opts:    opts,
		timeout: timeout,
		run:     runExec,
		logger:  logger.With().Str("observer", "service").Str("name", opts.Name).Logger(),
	}, nil
}

// Observe reports the current run state as a text observation.
func (s *Service) Observe(ctx context.Context) (types.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var st string
	if s.opts.Check == "systemd" {
		st = s.systemdState(ctx)
	} else {
		st = s.processState(ctx)
	}

	s.logger.Debug().Str("state", st).Msg("Service state resolved")
	return types.TextObservation(st, map[string]string{
		"check": s.opts.Check,
		"name":  s.opts.Name,
	}), nil
}

func (s *Service) systemdState(ctx context.Context) string {
	out, err := s.run(ctx, "systemctl", "is-active", s.opts.Name)
	// systemctl exits non-zero for any state but "active"; the stdout
	// word still tells the states apart.
	switch strings.TrimSpace(out) {
	case "active", "activating":
		return StateRunning
	case "inactive", "deactivating":
		return StateStopped
	case "failed":
		return StateFailed
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("systemctl query failed")
	}
	return StateUnknown
}

func (s *Service) processState(ctx context.Context) string {
	out, err := s.run(ctx, "ps", "ax", "-o", "comm=")
	if err != nil {
		s.logger.Warn().Err(err).Msg("Process listing failed")
		return StateUnknown
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(strings.TrimSpace(line), s.opts.Name) {
			return StateRunning
		}
	}
	return StateStopped
}

func runExec(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}
