package evaluator

import (
	"fmt"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// Improvement directions for the sequential-growth evaluator.
const (
	LowerIsBetter  = "lower_is_better"
	HigherIsBetter = "higher_is_better"
)

const defaultGrowthWindow = 3

// GrowthOptions configures the sequential-growth evaluator.
type GrowthOptions struct {
	// Window is the number K of prior observations the metric must fail
	// to improve across before alerting.
	Window int `yaml:"window"`
	// Direction says which way "better" points. Default lower_is_better
	// (error counts and similar).
	Direction string `yaml:"direction"`
	Severity  string `yaml:"severity"`
}

// Growth alerts when a metric shows no improvement across the last K
// observations. It is a monotonicity-violation detector: one improving
// step anywhere in the window clears the alert, and with fewer than K
// prior samples it stays silent while warming up.
type Growth struct {
	window    int
	lowerWins bool
	severity  types.Severity
}

// NewGrowth validates direction and window.
func NewGrowth(opts GrowthOptions) (*Growth, error) {
	window := opts.Window
	if window == 0 {
		window = defaultGrowthWindow
	}
	if window < 1 {
		return nil, fmt.Errorf("sequential_growth evaluator: window must be positive, got %d", opts.Window)
	}

	direction := opts.Direction
	if direction == "" {
		direction = LowerIsBetter
	}
	if direction != LowerIsBetter && direction != HigherIsBetter {
		return nil, fmt.Errorf("sequential_growth evaluator: unknown direction %q", opts.Direction)
	}

	sev, err := types.ParseSeverity(opts.Severity)
	if err != nil {
		return nil, fmt.Errorf("sequential_growth evaluator: %w", err)
	}
	return &Growth{window: window, lowerWins: direction == LowerIsBetter, severity: sev}, nil
}

// Evaluate checks the last K numeric history values plus the current
// one for any improving step.
func (e *Growth) Evaluate(current types.Observation, history []types.Observation) types.Decision {
	v, ok := numericValue(current)
	if !ok {
		return types.Decision{ShouldAlert: false, Severity: e.severity, Message: "no numeric value to evaluate"}
	}

	// A zero error count means the problem is gone, regardless of trend.
	if e.lowerWins && v == 0 {
		return types.Decision{ShouldAlert: false, Severity: e.severity, Message: "value is 0, nothing outstanding"}
	}

	var prior []float64
	for _, obs := range history {
		if pv, ok := numericValue(obs); ok {
			prior = append(prior, pv)
		}
	}
	if len(prior) < e.window {
		return types.Decision{
			ShouldAlert: false,
			Severity:    e.severity,
			Message:     fmt.Sprintf("warming up: %d of %d observations", len(prior), e.window),
		}
	}

	window := append(append([]float64{}, prior[len(prior)-e.window:]...), v)
	for i := 1; i < len(window); i++ {
		improved := window[i] < window[i-1]
		if !e.lowerWins {
			improved = window[i] > window[i-1]
		}
		if improved {
			return types.Decision{
				ShouldAlert: false,
				Severity:    e.severity,
				Message:     fmt.Sprintf("improving: %g (was %g)", v, window[len(window)-2]),
			}
		}
	}

	direction := LowerIsBetter
	if !e.lowerWins {
		direction = HigherIsBetter
	}
	return types.Decision{
		ShouldAlert: true,
		Severity:    e.severity,
		Message: fmt.Sprintf("Persistent issue: %g shows no improvement over last %d check(s) (was %g)",
			v, e.window, window[0]),
		Fingerprint: types.Fingerprint("sequential_growth:" + direction),
	}
}
