package evaluator

import (
	"fmt"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// Transition filters for the state-change evaluator.
const (
	AlertOnBoth    = "both"
	AlertOnDegrade = "degrade"
	AlertOnRecover = "recover"
)

// StateChangeOptions configures the state-change evaluator.
type StateChangeOptions struct {
	// AlertOn filters which transitions alert: "both" (default),
	// "degrade" (leaving a healthy state) or "recover" (entering one).
	AlertOn  string `yaml:"alert_on"`
	Severity string `yaml:"severity"`
}

// StateChange alerts when the current boolean or text state differs
// from the most recent prior observation. The first observation ever
// establishes the baseline and never alerts.
type StateChange struct {
	alertOn  string
	severity types.Severity
}

// NewStateChange validates the transition filter.
func NewStateChange(opts StateChangeOptions) (*StateChange, error) {
	alertOn := opts.AlertOn
	if alertOn == "" {
		alertOn = AlertOnBoth
	}
	if alertOn != AlertOnBoth && alertOn != AlertOnDegrade && alertOn != AlertOnRecover {
		return nil, fmt.Errorf("state_change evaluator: unknown alert_on %q", opts.AlertOn)
	}
	sev, err := types.ParseSeverity(opts.Severity)
	if err != nil {
		return nil, fmt.Errorf("state_change evaluator: %w", err)
	}
	return &StateChange{alertOn: alertOn, severity: sev}, nil
}

// Evaluate compares the current state to the most recent comparable
// prior state.
func (e *StateChange) Evaluate(current types.Observation, history []types.Observation) types.Decision {
	cur, ok := stateOf(current)
	if !ok {
		return types.Decision{ShouldAlert: false, Severity: e.severity, Message: "no current state"}
	}

	prev, ok := lastState(history)
	if !ok {
		return types.Decision{
			ShouldAlert: false,
			Severity:    e.severity,
			Message:     "establishing baseline: " + cur,
		}
	}

	if cur == prev {
		return types.Decision{ShouldAlert: false, Severity: e.severity, Message: "no state change, still " + cur}
	}

	if e.alertOn == AlertOnDegrade && !degrading(prev, cur) {
		return types.Decision{ShouldAlert: false, Severity: e.severity,
			Message: fmt.Sprintf("state changed %s -> %s, not a degradation", prev, cur)}
	}
	if e.alertOn == AlertOnRecover && !degrading(cur, prev) {
		return types.Decision{ShouldAlert: false, Severity: e.severity,
			Message: fmt.Sprintf("state changed %s -> %s, not a recovery", prev, cur)}
	}

	return types.Decision{
		ShouldAlert: true,
		Severity:    e.severity,
		Message:     fmt.Sprintf("State changed: %s -> %s", prev, cur),
		Fingerprint: types.Fingerprint(fmt.Sprintf("state_change:%s->%s", prev, cur)),
	}
}

// stateOf maps an observation to its comparable state string. Numeric
// and degraded observations carry no state.
func stateOf(obs types.Observation) (string, bool) {
	switch obs.Kind {
	case types.ValueBool:
		if obs.Bool {
			return "true", true
		}
		return "false", true
	case types.ValueText:
		if obs.Text == "" {
			return "", false
		}
		return obs.Text, true
	}
	return "", false
}

func lastState(history []types.Observation) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if s, ok := stateOf(history[i]); ok {
			return s, true
		}
	}
	return "", false
}

// degrading reports whether the from→to transition leaves a healthy
// state. "true" and "running" count as healthy.
func degrading(from, to string) bool {
	return healthy(from) && !healthy(to)
}

func healthy(s string) bool {
	return s == "true" || s == "running"
}
