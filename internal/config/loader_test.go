package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
state_dir: /tmp/lightkeeper-test
history_size: 50
rate_limiting:
  cooldown_seconds: 900
  max_per_hour: 4
notifiers:
  - name: term
    type: console
  - name: push
    type: pushover
    options:
      user_key: env:PUSHOVER_USER
      api_token: env:PUSHOVER_TOKEN
watchers:
  - name: web-errors
    observer:
      type: log_pattern
      options:
        path: /var/log/nginx/error.log
        patterns: ["ERROR", "FATAL"]
    trigger:
      type: temporal
      options:
        interval_seconds: 60
    evaluator:
      type: pattern_match
      options:
        severity: high
    notifiers: [term, push]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/lightkeeper-test", cfg.StateDir)
	assert.Equal(t, 50, cfg.HistorySize)
	require.NotNil(t, cfg.RateLimiting.CooldownSeconds)
	assert.Equal(t, 900, *cfg.RateLimiting.CooldownSeconds)
	assert.Equal(t, 4, cfg.RateLimiting.MaxPerHour)
	require.Len(t, cfg.Watchers, 1)

	w := cfg.Watchers[0]
	assert.Equal(t, "web-errors", w.Name)
	assert.Equal(t, "log_pattern", w.Observer.Type)
	assert.Equal(t, []string{"term", "push"}, w.Notifiers)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
notifiers:
  - name: term
    type: console
watchers:
  - name: w
    observer: {type: metric}
    trigger: {type: manual}
    evaluator: {type: threshold}
    notifiers: [term]
`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/lightkeeper", cfg.StateDir)
	require.NotNil(t, cfg.RateLimiting.CooldownSeconds)
	assert.Equal(t, DefaultCooldownSeconds, *cfg.RateLimiting.CooldownSeconds)
	assert.Equal(t, 0, cfg.RateLimiting.MaxPerHour, "budget defaults to unlimited")
}

func TestLoadConfigExplicitZeroCooldown(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
rate_limiting:
  cooldown_seconds: 0
notifiers:
  - name: term
    type: console
watchers:
  - name: w
    observer: {type: metric}
    trigger: {type: manual}
    evaluator: {type: threshold}
    notifiers: [term]
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.RateLimiting.CooldownSeconds)
	assert.Equal(t, 0, *cfg.RateLimiting.CooldownSeconds,
		"an explicit 0 disables the cooldown instead of selecting the default")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "watchers: ["))
	assert.Error(t, err)
}

func TestValidateConfigRejects(t *testing.T) {
	cases := map[string]string{
		"no watchers": `
notifiers: [{name: term, type: console}]
watchers: []
`,
		"no notifiers": `
notifiers: []
watchers:
  - name: w
    observer: {type: metric}
    trigger: {type: manual}
    evaluator: {type: threshold}
    notifiers: [term]
`,
		"duplicate watcher names": `
notifiers: [{name: term, type: console}]
watchers:
  - name: w
    observer: {type: metric}
    trigger: {type: manual}
    evaluator: {type: threshold}
    notifiers: [term]
  - name: w
    observer: {type: metric}
    trigger: {type: manual}
    evaluator: {type: threshold}
    notifiers: [term]
`,
		"path separator in name": `
notifiers: [{name: term, type: console}]
watchers:
  - name: ../escape
    observer: {type: metric}
    trigger: {type: manual}
    evaluator: {type: threshold}
    notifiers: [term]
`,
		"unknown notifier reference": `
notifiers: [{name: term, type: console}]
watchers:
  - name: w
    observer: {type: metric}
    trigger: {type: manual}
    evaluator: {type: threshold}
    notifiers: [ghost]
`,
		"missing trigger type": `
notifiers: [{name: term, type: console}]
watchers:
  - name: w
    observer: {type: metric}
    evaluator: {type: threshold}
    notifiers: [term]
`,
		"negative cooldown": `
rate_limiting: {cooldown_seconds: -1}
notifiers: [{name: term, type: console}]
watchers:
  - name: w
    observer: {type: metric}
    trigger: {type: manual}
    evaluator: {type: threshold}
    notifiers: [term]
`,
		"webhook trigger without webhook section": `
notifiers: [{name: term, type: console}]
watchers:
  - name: w
    observer: {type: metric}
    trigger: {type: webhook}
    evaluator: {type: threshold}
    notifiers: [term]
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestWebhookSectionDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
webhook:
  port: 8090
  api_key_file: /etc/lightkeeper/api_keys
notifiers: [{name: term, type: console}]
watchers:
  - name: w
    observer: {type: metric}
    trigger: {type: webhook}
    evaluator: {type: threshold}
    notifiers: [term]
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Webhook)
	assert.Equal(t, "127.0.0.1", cfg.Webhook.Host, "listener binds loopback unless told otherwise")
}

func TestOptionsDecode(t *testing.T) {
	opts := Options{
		"path":      "/var/log/app.log",
		"patterns":  []interface{}{"ERROR", "panic:"},
		"match_any": true,
	}
	var out struct {
		Path     string   `yaml:"path"`
		Patterns []string `yaml:"patterns"`
		MatchAny bool     `yaml:"match_any"`
	}
	require.NoError(t, opts.Decode(&out))
	assert.Equal(t, "/var/log/app.log", out.Path)
	assert.Equal(t, []string{"ERROR", "panic:"}, out.Patterns)
	assert.True(t, out.MatchAny)
}
