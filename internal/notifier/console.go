package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// Console prints alerts to standard output. Useful for testing a
// configuration and for running under systemd with journal capture.
type Console struct {
	name string
	out  io.Writer
}

// NewConsole builds a console notifier writing to stdout.
func NewConsole(name string) *Console {
	return &Console{name: name, out: os.Stdout}
}

func (c *Console) Name() string { return c.name }

// Send prints the alert as a bordered block.
func (c *Console) Send(_ context.Context, title, message string, severity types.Severity) error {
	border := strings.Repeat("=", 60)
	_, err := fmt.Fprintf(c.out, "\n%s\nALERT: %s\nSeverity: %s\n%s\n%s\n\n",
		border, title, severity, message, border)
	return err
}
