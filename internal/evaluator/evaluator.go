// Package evaluator implements the decision side of a watcher: pure
// functions from an observation plus bounded history to an alert
// decision. Evaluators never mutate the history they are handed.
package evaluator

import (
	"github.com/lightkeeper/lightkeeper/internal/types"
)

// Evaluator turns the current observation and the watcher's bounded
// observation history into an alert decision.
type Evaluator interface {
	Evaluate(current types.Observation, history []types.Observation) types.Decision
}
