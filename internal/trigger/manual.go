package trigger

import "context"

// Manual fires exactly once per explicit invocation, never on its own.
// Used by the CLI's one-shot check and by external integrations.
type Manual struct {
	fire FireFunc
}

// NewManual builds a manual trigger.
func NewManual(fire FireFunc) *Manual {
	return &Manual{fire: fire}
}

// Trigger requests one check.
func (t *Manual) Trigger() {
	t.fire()
}

// Run blocks until ctx is cancelled; firings only happen through
// Trigger.
func (t *Manual) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
