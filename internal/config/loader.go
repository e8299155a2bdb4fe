package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultStateDir = "/var/lib/lightkeeper"

	// DefaultCooldownSeconds applies when rate_limiting.cooldown_seconds
	// is left unset.
	DefaultCooldownSeconds = 3600
)

// LoadConfig loads, defaults and validates a configuration file. Any
// problem is a startup failure; the daemon never runs on a config it
// could not fully validate.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir
	}
	if cfg.RateLimiting.CooldownSeconds == nil {
		cooldown := DefaultCooldownSeconds
		cfg.RateLimiting.CooldownSeconds = &cooldown
	}
	if cfg.Webhook != nil && cfg.Webhook.Host == "" {
		cfg.Webhook.Host = "127.0.0.1"
	}
}

// ValidateConfig checks the structural invariants the builder relies
// on. Plugin option schemas are validated by the plugin constructors,
// which also run at startup.
func ValidateConfig(cfg *Config) error {
	if len(cfg.Watchers) == 0 {
		return fmt.Errorf("no watchers configured")
	}
	if len(cfg.Notifiers) == 0 {
		return fmt.Errorf("no notifiers configured")
	}
	if cfg.RateLimiting.CooldownSeconds != nil && *cfg.RateLimiting.CooldownSeconds < 0 {
		return fmt.Errorf("rate_limiting.cooldown_seconds must not be negative")
	}
	if cfg.RateLimiting.MaxPerHour < 0 {
		return fmt.Errorf("rate_limiting.max_per_hour must not be negative")
	}

	notifierNames := make(map[string]bool, len(cfg.Notifiers))
	for i, n := range cfg.Notifiers {
		if n.Name == "" {
			return fmt.Errorf("notifier %d: name is required", i)
		}
		if n.Type == "" {
			return fmt.Errorf("notifier %q: type is required", n.Name)
		}
		if notifierNames[n.Name] {
			return fmt.Errorf("notifier %q: duplicate name", n.Name)
		}
		notifierNames[n.Name] = true
	}

	watcherNames := make(map[string]bool, len(cfg.Watchers))
	needsWebhook := false
	for i, w := range cfg.Watchers {
		if w.Name == "" {
			return fmt.Errorf("watcher %d: name is required", i)
		}
		// The name keys state files on disk.
		if strings.ContainsAny(w.Name, "/\\") {
			return fmt.Errorf("watcher %q: name must not contain path separators", w.Name)
		}
		if watcherNames[w.Name] {
			return fmt.Errorf("watcher %q: duplicate name", w.Name)
		}
		watcherNames[w.Name] = true

		if w.Observer.Type == "" {
			return fmt.Errorf("watcher %q: observer.type is required", w.Name)
		}
		if w.Trigger.Type == "" {
			return fmt.Errorf("watcher %q: trigger.type is required", w.Name)
		}
		if w.Evaluator.Type == "" {
			return fmt.Errorf("watcher %q: evaluator.type is required", w.Name)
		}
		if w.Trigger.Type == "webhook" {
			needsWebhook = true
		}

		if len(w.Notifiers) == 0 {
			return fmt.Errorf("watcher %q: at least one notifier reference is required", w.Name)
		}
		for _, ref := range w.Notifiers {
			if !notifierNames[ref] {
				return fmt.Errorf("watcher %q: references unknown notifier %q", w.Name, ref)
			}
		}
	}

	if needsWebhook {
		if cfg.Webhook == nil {
			return fmt.Errorf("a watcher uses the webhook trigger but no webhook section is configured")
		}
		if cfg.Webhook.Port == 0 {
			return fmt.Errorf("webhook.port is required")
		}
		if cfg.Webhook.APIKeyFile == "" {
			return fmt.Errorf("webhook.api_key_file is required")
		}
	}
	return nil
}
