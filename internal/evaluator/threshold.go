package evaluator

import (
	"fmt"
	"math"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// Comparison operators accepted by the threshold evaluator.
const (
	OpGT  = "gt"
	OpGTE = "gte"
	OpLT  = "lt"
	OpLTE = "lte"
	OpEQ  = "eq"
)

// ThresholdOptions configures a numeric bound check.
type ThresholdOptions struct {
	Operator string  `yaml:"operator"`
	Value    float64 `yaml:"value"`
	// Hysteresis widens the release band: once breached, the condition
	// only clears when the value retreats past the bound by this much,
	// which stops flapping right at the boundary.
	Hysteresis float64 `yaml:"hysteresis"`
	// LevelTriggered alerts on every breached sample instead of only on
	// the transition into breach.
	LevelTriggered bool   `yaml:"level_triggered"`
	Severity       string `yaml:"severity"`
}

// Threshold alerts when a metric crosses a configured bound,
// edge-triggered with hysteresis unless configured level-triggered.
type Threshold struct {
	opts     ThresholdOptions
	severity types.Severity
}

// NewThreshold validates the operator and severity.
func NewThreshold(opts ThresholdOptions) (*Threshold, error) {
	switch opts.Operator {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
	default:
		return nil, fmt.Errorf("threshold evaluator: unknown operator %q", opts.Operator)
	}
	if opts.Hysteresis < 0 {
		return nil, fmt.Errorf("threshold evaluator: hysteresis must not be negative")
	}
	sev, err := types.ParseSeverity(opts.Severity)
	if err != nil {
		return nil, fmt.Errorf("threshold evaluator: %w", err)
	}
	return &Threshold{opts: opts, severity: sev}, nil
}

// Evaluate compares the current value against the bound. In edge mode
// the breach state is replayed over history so only a fresh crossing
// alerts; samples that stay inside the hysteresis band keep the latch.
func (e *Threshold) Evaluate(current types.Observation, history []types.Observation) types.Decision {
	v, ok := numericValue(current)
	if !ok {
		return types.Decision{ShouldAlert: false, Severity: e.severity, Message: "no numeric value to evaluate"}
	}

	breached := e.breach(v)
	msg := fmt.Sprintf("value %g %s bound %g", v, e.opts.Operator, e.opts.Value)

	if !breached {
		return types.Decision{ShouldAlert: false, Severity: e.severity, Message: "within bound: " + msg}
	}
	if !e.opts.LevelTriggered && e.latched(history) {
		return types.Decision{ShouldAlert: false, Severity: e.severity, Message: "still breached: " + msg}
	}

	return types.Decision{
		ShouldAlert: true,
		Severity:    e.severity,
		Message:     "Threshold crossed: " + msg,
		Fingerprint: types.Fingerprint(fmt.Sprintf("threshold:%s:%g", e.opts.Operator, e.opts.Value)),
	}
}

// latched replays history to decide whether the condition was already
// in breach before this sample.
func (e *Threshold) latched(history []types.Observation) bool {
	latched := false
	for _, obs := range history {
		v, ok := numericValue(obs)
		if !ok {
			continue
		}
		if latched {
			if e.released(v) {
				latched = false
			}
		} else if e.breach(v) {
			latched = true
		}
	}
	return latched
}

func (e *Threshold) breach(v float64) bool {
	t := e.opts.Value
	switch e.opts.Operator {
	case OpGT:
		return v > t
	case OpGTE:
		return v >= t
	case OpLT:
		return v < t
	case OpLTE:
		return v <= t
	case OpEQ:
		return v == t
	}
	return false
}

// released reports whether v has retreated past the hysteresis-adjusted
// release point.
func (e *Threshold) released(v float64) bool {
	t, h := e.opts.Value, e.opts.Hysteresis
	switch e.opts.Operator {
	case OpGT:
		return v <= t-h
	case OpGTE:
		return v < t-h
	case OpLT:
		return v >= t+h
	case OpLTE:
		return v > t+h
	case OpEQ:
		return v != t
	}
	return false
}

func numericValue(obs types.Observation) (float64, bool) {
	if obs.Kind != types.ValueNumber || math.IsNaN(obs.Number) {
		return 0, false
	}
	return obs.Number, true
}
