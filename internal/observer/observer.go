// Package observer implements the measurement side of a watcher: each
// observer produces one Observation per check from a log file, an
// extracted metric, or a service's run state.
package observer

import (
	"context"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// Observer produces a fresh Observation for each check cycle.
//
// An error return means the cycle produced no usable observation at all
// (watcher-local failure, logged and skipped by the coordinator).
// Recoverable conditions such as a missing target file are reported as
// degraded Observations instead, so evaluators can decide significance.
type Observer interface {
	Observe(ctx context.Context) (types.Observation, error)
}
