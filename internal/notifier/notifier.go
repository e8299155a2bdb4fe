// Package notifier implements alert delivery. Deliveries are
// best-effort: a failure is returned to the coordinator, logged, and
// never aborts the pipeline or other notifiers.
package notifier

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// Notifier delivers one formatted alert message.
type Notifier interface {
	// Name identifies the notifier in config references and logs.
	Name() string
	// Send delivers the message. Implementations bound their own
	// network timeouts and retry at most once.
	Send(ctx context.Context, title, message string, severity types.Severity) error
}

const (
	sendTimeout  = 10 * time.Second
	retryBackoff = 2 * time.Second
)

// resolveSecret expands "env:NAME" references to the environment
// variable's value, so credentials can stay out of the config file.
func resolveSecret(s string) string {
	if name, ok := strings.CutPrefix(s, "env:"); ok {
		return os.Getenv(name)
	}
	return s
}
