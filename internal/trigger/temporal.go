package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TemporalOptions configures a fixed-interval trigger.
type TemporalOptions struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Temporal fires on a fixed interval. Each firing is scheduled
// relative to the loop's start time, not the previous completion, so
// slow checks do not accumulate drift.
type Temporal struct {
	interval time.Duration
	fire     FireFunc
	logger   zerolog.Logger
}

// NewTemporal validates the interval and builds the trigger.
func NewTemporal(opts TemporalOptions, fire FireFunc, logger zerolog.Logger) (*Temporal, error) {
	if opts.IntervalSeconds <= 0 {
		return nil, fmt.Errorf("temporal trigger: interval_seconds must be positive, got %d", opts.IntervalSeconds)
	}
	return &Temporal{
		interval: time.Duration(opts.IntervalSeconds) * time.Second,
		fire:     fire,
		logger:   logger.With().Str("trigger", "temporal").Logger(),
	}, nil
}

// Run fires immediately, then on every interval boundary until ctx is
// cancelled.
func (t *Temporal) Run(ctx context.Context) error {
	t.logger.Debug().Dur("interval", t.interval).Msg("Temporal trigger started")
	start := time.Now()
	t.fire()

	for n := int64(1); ; n++ {
		next := start.Add(time.Duration(n) * t.interval)
		wait := time.Until(next)
		if wait < 0 {
			// A long check overran one or more slots; skip to the next
			// future boundary rather than firing a burst.
			n += int64(-wait / t.interval)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
			t.fire()
		}
	}
}
