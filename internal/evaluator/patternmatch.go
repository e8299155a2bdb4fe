package evaluator

import (
	"fmt"
	"strings"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// PatternMatchOptions configures the pattern-match evaluator.
type PatternMatchOptions struct {
	Severity string `yaml:"severity"`
}

// PatternMatch alerts whenever the observer reported matched lines.
// The fingerprint is the hash of the matched text itself, so the same
// log content surfacing twice deduplicates while a new error does not.
type PatternMatch struct {
	severity types.Severity
}

// NewPatternMatch builds the evaluator, validating severity.
func NewPatternMatch(opts PatternMatchOptions) (*PatternMatch, error) {
	sev, err := types.ParseSeverity(opts.Severity)
	if err != nil {
		return nil, fmt.Errorf("pattern_match evaluator: %w", err)
	}
	return &PatternMatch{severity: sev}, nil
}

// Evaluate alerts when the current observation carries matched lines.
func (e *PatternMatch) Evaluate(current types.Observation, _ []types.Observation) types.Decision {
	if len(current.MatchedLines) == 0 {
		return types.Decision{ShouldAlert: false, Severity: e.severity, Message: "no pattern match"}
	}

	joined := strings.Join(current.MatchedLines, "\n")
	return types.Decision{
		ShouldAlert: true,
		Severity:    e.severity,
		Message:     fmt.Sprintf("Pattern matched %d line(s): %s", len(current.MatchedLines), current.MatchedLines[0]),
		Fingerprint: types.Fingerprint(joined),
	}
}
