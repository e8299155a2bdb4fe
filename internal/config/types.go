package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the complete Lightkeeper configuration.
type Config struct {
	// StateDir holds alert state, cursors and observation history.
	StateDir string `yaml:"state_dir"`
	// HistorySize bounds each watcher's observation history.
	HistorySize  int             `yaml:"history_size"`
	RateLimiting RateLimitConfig `yaml:"rate_limiting"`
	// Webhook configures the shared inbound trigger listener; required
	// only when a watcher uses the webhook trigger.
	Webhook   *WebhookConfig   `yaml:"webhook,omitempty"`
	Notifiers []NotifierConfig `yaml:"notifiers"`
	Watchers  []WatcherConfig  `yaml:"watchers"`
}

// RateLimitConfig bounds how often alerts may be delivered.
type RateLimitConfig struct {
	// CooldownSeconds is the minimum gap between two allowed alerts
	// sharing a fingerprint. Unset selects the default; an explicit 0
	// disables the cooldown.
	CooldownSeconds *int `yaml:"cooldown_seconds"`
	// MaxPerHour caps alerts per watcher per rolling hour; 0 means
	// unlimited.
	MaxPerHour int `yaml:"max_per_hour"`
}

// WebhookConfig configures the inbound webhook listener.
type WebhookConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKeyFile string `yaml:"api_key_file"`
}

// WatcherConfig defines one watcher: what to observe, when to check,
// how to decide and whom to tell. The name is the watcher's stable
// identity; persisted state is keyed by it across reloads.
type WatcherConfig struct {
	Name      string       `yaml:"name"`
	Observer  PluginConfig `yaml:"observer"`
	Trigger   PluginConfig `yaml:"trigger"`
	Evaluator PluginConfig `yaml:"evaluator"`
	// Notifiers references entries of the top-level notifier list, in
	// delivery order.
	Notifiers []string `yaml:"notifiers"`
}

// NotifierConfig defines a named notification destination.
type NotifierConfig struct {
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type"`
	Options Options `yaml:"options"`
}

// PluginConfig selects a plugin variant by type key plus its
// variant-specific options.
type PluginConfig struct {
	Type    string  `yaml:"type"`
	Options Options `yaml:"options"`
}

// Options is the raw option mapping of a plugin. Decode re-marshals it
// into the variant's typed option struct, so each plugin keeps its own
// schema without the loader knowing it.
type Options map[string]interface{}

// Decode unmarshals the options into out.
func (o Options) Decode(out interface{}) error {
	data, err := yaml.Marshal(map[string]interface{}(o))
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding options: %w", err)
	}
	return nil
}
