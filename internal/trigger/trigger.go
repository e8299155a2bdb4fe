// Package trigger implements the scheduling side of a watcher: each
// trigger decides when the owning coordinator should run a check and
// requests it through a FireFunc.
package trigger

import "context"

// FireFunc requests one check of the owning watcher. Implementations
// on the coordinator side are non-blocking: a request that arrives
// while a check is in flight is collapsed or dropped, never queued
// unboundedly.
type FireFunc func()

// Trigger drives check requests until its context is cancelled.
type Trigger interface {
	Run(ctx context.Context) error
}
