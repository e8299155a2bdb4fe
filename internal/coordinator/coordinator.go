// Package coordinator wires one watcher's observer, evaluator and
// notifiers into the observe → evaluate → gate → notify pipeline and
// owns the watcher's bounded observation history.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightkeeper/lightkeeper/internal/evaluator"
	"github.com/lightkeeper/lightkeeper/internal/notifier"
	"github.com/lightkeeper/lightkeeper/internal/observer"
	"github.com/lightkeeper/lightkeeper/internal/state"
	"github.com/lightkeeper/lightkeeper/internal/types"
)

const (
	defaultHistoryCap  = 100
	defaultCheckBudget = 60 * time.Second
)

// Coordinator runs a single watcher. Its pipeline is strictly
// sequential for the watcher: firings that arrive while a check is in
// flight collapse into at most one queued run; further firings are
// dropped with a logged skip. Different watchers run fully
// independently.
type Coordinator struct {
	name      string
	observer  observer.Observer
	evaluator evaluator.Evaluator
	notifiers []notifier.Notifier
	gate      *state.Manager

	history     []types.Observation
	historyCap  int
	historyPath string

	fireCh      chan struct{}
	checkBudget time.Duration
	logger      zerolog.Logger
}

// New builds a coordinator and reloads any persisted history, so
// stateful evaluators keep their context across restarts. A corrupt
// history record starts fresh.
func New(name string, obs observer.Observer, eval evaluator.Evaluator,
	notifiers []notifier.Notifier, gate *state.Manager,
	stateDir string, historyCap int, logger zerolog.Logger) *Coordinator {

	if historyCap <= 0 {
		historyCap = defaultHistoryCap
	}
	c := &Coordinator{
		name:        name,
		observer:    obs,
		evaluator:   eval,
		notifiers:   notifiers,
		gate:        gate,
		historyCap:  historyCap,
		historyPath: filepath.Join(stateDir, name+".history.json"),
		fireCh:      make(chan struct{}, 1),
		checkBudget: defaultCheckBudget,
		logger:      logger.With().Str("watcher", name).Logger(),
	}

	err := state.ReadJSON(c.historyPath, &c.history)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn().Err(err).Msg("Could not load observation history, starting fresh")
		c.history = nil
	}
	if len(c.history) > c.historyCap {
		c.history = c.history[len(c.history)-c.historyCap:]
	}
	return c
}

// Name returns the watcher name.
func (c *Coordinator) Name() string { return c.name }

// Fire requests one check. Non-blocking: with a run in flight and one
// already queued, the request is dropped and logged as a skip.
func (c *Coordinator) Fire() {
	select {
	case c.fireCh <- struct{}{}:
	default:
		c.logger.Debug().Msg("Check already pending, skipping trigger firing")
	}
}

// Run consumes firings until ctx is cancelled. An in-flight check is
// allowed to finish; its own budget bounds how long that takes.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.fireCh:
			c.check(ctx)
		}
	}
}

// CheckOnce runs a single pipeline pass and reports the decision and
// gate outcome, for CLI-driven manual checks.
func (c *Coordinator) CheckOnce(ctx context.Context) (types.Decision, state.GateResult, error) {
	return c.pipeline(ctx)
}

// check is one trigger-driven pipeline run. Failures and panics are
// watcher-local: they are logged and the next firing proceeds as
// usual.
func (c *Coordinator) check(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Watcher check panicked")
		}
	}()

	if _, _, err := c.pipeline(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Watcher check failed")
	}
}

func (c *Coordinator) pipeline(ctx context.Context) (types.Decision, state.GateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.checkBudget)
	defer cancel()

	obs, err := c.observer.Observe(ctx)
	if err != nil {
		// No observation this cycle; history and state stay untouched.
		return types.Decision{}, state.GateResult{}, fmt.Errorf("observe: %w", err)
	}

	decision := c.evaluator.Evaluate(obs, c.history)
	c.appendHistory(obs)

	if !decision.ShouldAlert {
		c.logger.Debug().Str("message", decision.Message).Msg("No alert")
		return decision, state.GateResult{Allow: false, Reason: state.ReasonNothingToAlert}, nil
	}

	result, err := c.gate.Gate(c.name, decision)
	if err != nil {
		return decision, state.GateResult{}, fmt.Errorf("gate: %w", err)
	}
	if !result.Allow {
		c.logger.Info().
			Str("reason", result.Reason).
			Str("fingerprint", decision.Fingerprint).
			Msg("Alert suppressed")
		return decision, result, nil
	}

	c.notify(ctx, decision)
	return decision, result, nil
}

// notify dispatches to every notifier independently; one notifier's
// failure never blocks the others.
func (c *Coordinator) notify(ctx context.Context, decision types.Decision) {
	title := "Lightkeeper: " + c.name
	for _, n := range c.notifiers {
		if err := n.Send(ctx, title, decision.Message, decision.Severity); err != nil {
			c.logger.Error().
				Err(err).
				Str("notifier", n.Name()).
				Msg("Notification delivery failed")
			continue
		}
		c.logger.Info().
			Str("notifier", n.Name()).
			Str("severity", string(decision.Severity)).
			Msg("Alert delivered")
	}
}

// appendHistory appends the observation, evicts the oldest entries
// over capacity and persists the window. A failed persist is logged
// and tolerated; the in-memory history stays authoritative.
func (c *Coordinator) appendHistory(obs types.Observation) {
	c.history = append(c.history, obs)
	if len(c.history) > c.historyCap {
		c.history = c.history[len(c.history)-c.historyCap:]
	}
	if err := state.WriteJSONAtomic(c.historyPath, c.history); err != nil {
		c.logger.Warn().Err(err).Msg("Could not persist observation history")
	}
}
