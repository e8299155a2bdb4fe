package registry

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightkeeper/lightkeeper/internal/config"
)

func TestBuiltinsRegistered(t *testing.T) {
	r := New()

	for _, name := range []string{"log_pattern", "metric", "service"} {
		_, err := r.Observer(name)
		assert.NoError(t, err, "observer %s", name)
	}
	for _, name := range []string{"pattern_match", "threshold", "sequential_growth", "state_change"} {
		_, err := r.Evaluator(name)
		assert.NoError(t, err, "evaluator %s", name)
	}
	for _, name := range []string{"console", "pushover", "webhook"} {
		_, err := r.Notifier(name)
		assert.NoError(t, err, "notifier %s", name)
	}
	for _, name := range []string{"temporal", "file_event", "manual"} {
		_, err := r.Trigger(name)
		assert.NoError(t, err, "trigger %s", name)
	}
}

func TestUnknownTypes(t *testing.T) {
	r := New()

	_, err := r.Observer("tcp_probe")
	assert.ErrorContains(t, err, "tcp_probe")
	_, err = r.Evaluator("ai")
	assert.Error(t, err)
	_, err = r.Notifier("carrier_pigeon")
	assert.Error(t, err)
	_, err = r.Trigger("webhook")
	assert.Error(t, err, "the webhook listener is wired by the daemon, not the registry")
}

func TestFactoryDecodesOptions(t *testing.T) {
	r := New()

	factory, err := r.Evaluator("threshold")
	require.NoError(t, err)

	e, err := factory(config.Options{"operator": "gt", "value": 90, "severity": "high"})
	require.NoError(t, err)
	assert.NotNil(t, e)

	_, err = factory(config.Options{"operator": "between", "value": 90})
	assert.Error(t, err, "bad options surface at build time")
}

func TestObserverFactoryError(t *testing.T) {
	r := New()

	factory, err := r.Observer("log_pattern")
	require.NoError(t, err)

	_, err = factory("w", config.Options{"path": "/var/log/x"}, t.TempDir(), zerolog.Nop())
	assert.Error(t, err, "missing patterns rejected by the constructor")
}
