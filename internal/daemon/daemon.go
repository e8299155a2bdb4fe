// Package daemon assembles the configured watchers into running
// pipelines and supervises them for the life of the process.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightkeeper/lightkeeper/internal/config"
	"github.com/lightkeeper/lightkeeper/internal/coordinator"
	"github.com/lightkeeper/lightkeeper/internal/notifier"
	"github.com/lightkeeper/lightkeeper/internal/registry"
	"github.com/lightkeeper/lightkeeper/internal/state"
	"github.com/lightkeeper/lightkeeper/internal/trigger"
)

// shutdownGrace bounds how long Run waits for in-flight checks after
// cancellation before giving up on them.
const shutdownGrace = 10 * time.Second

// Daemon owns every runtime component built from one configuration:
// the rate-limit gate, the notifier pool, one coordinator per watcher,
// its trigger, and the shared webhook listener when any watcher asks
// for one.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger

	gate         *state.Manager
	notifiers    map[string]notifier.Notifier
	coordinators map[string]*coordinator.Coordinator
	// order preserves config order for listing.
	order    []string
	triggers map[string]trigger.Trigger
	webhook  *trigger.WebhookServer
}

// New builds all components from a validated configuration. Any plugin
// construction error aborts startup; a daemon never runs with a subset
// of its watchers.
func New(cfg *config.Config, reg *registry.Registry, logger zerolog.Logger) (*Daemon, error) {
	cooldown := time.Duration(config.DefaultCooldownSeconds) * time.Second
	if cfg.RateLimiting.CooldownSeconds != nil {
		cooldown = time.Duration(*cfg.RateLimiting.CooldownSeconds) * time.Second
	}
	d := &Daemon{
		cfg:    cfg,
		logger: logger,
		gate: state.NewManager(cfg.StateDir, cooldown,
			cfg.RateLimiting.MaxPerHour, logger),
		notifiers:    make(map[string]notifier.Notifier),
		coordinators: make(map[string]*coordinator.Coordinator),
		triggers:     make(map[string]trigger.Trigger),
	}

	for _, nc := range cfg.Notifiers {
		factory, err := reg.Notifier(nc.Type)
		if err != nil {
			return nil, fmt.Errorf("notifier %q: %w", nc.Name, err)
		}
		n, err := factory(nc.Name, nc.Options, logger)
		if err != nil {
			return nil, fmt.Errorf("notifier %q: %w", nc.Name, err)
		}
		d.notifiers[nc.Name] = n
	}

	for _, wc := range cfg.Watchers {
		if err := d.buildWatcher(wc, reg); err != nil {
			return nil, fmt.Errorf("watcher %q: %w", wc.Name, err)
		}
	}
	return d, nil
}

func (d *Daemon) buildWatcher(wc config.WatcherConfig, reg *registry.Registry) error {
	obsFactory, err := reg.Observer(wc.Observer.Type)
	if err != nil {
		return err
	}
	obs, err := obsFactory(wc.Name, wc.Observer.Options, d.cfg.StateDir, d.logger)
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}

	evalFactory, err := reg.Evaluator(wc.Evaluator.Type)
	if err != nil {
		return err
	}
	eval, err := evalFactory(wc.Evaluator.Options)
	if err != nil {
		return fmt.Errorf("evaluator: %w", err)
	}

	sinks := make([]notifier.Notifier, 0, len(wc.Notifiers))
	for _, name := range wc.Notifiers {
		n, ok := d.notifiers[name]
		if !ok {
			return fmt.Errorf("unknown notifier %q", name)
		}
		sinks = append(sinks, n)
	}

	coord := coordinator.New(wc.Name, obs, eval, sinks, d.gate,
		d.cfg.StateDir, d.cfg.HistorySize, d.logger)
	d.coordinators[wc.Name] = coord
	d.order = append(d.order, wc.Name)

	if wc.Trigger.Type == "webhook" {
		if err := d.ensureWebhookServer(); err != nil {
			return err
		}
		d.webhook.Register(wc.Name, coord.Fire)
		return nil
	}

	trigFactory, err := reg.Trigger(wc.Trigger.Type)
	if err != nil {
		return err
	}
	trig, err := trigFactory(wc.Trigger.Options, coord.Fire, d.logger.With().Str("watcher", wc.Name).Logger())
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	d.triggers[wc.Name] = trig
	return nil
}

func (d *Daemon) ensureWebhookServer() error {
	if d.webhook != nil {
		return nil
	}
	if d.cfg.Webhook == nil {
		return fmt.Errorf("webhook trigger requires a top-level webhook section")
	}
	server, err := trigger.NewWebhookServer(trigger.WebhookOptions{
		Host:       d.cfg.Webhook.Host,
		Port:       d.cfg.Webhook.Port,
		APIKeyFile: d.cfg.Webhook.APIKeyFile,
	}, d.logger)
	if err != nil {
		return err
	}
	d.webhook = server
	return nil
}

// Watchers lists watcher names in configuration order.
func (d *Daemon) Watchers() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Coordinator returns the coordinator for a watcher name, for
// CLI-driven single checks.
func (d *Daemon) Coordinator(name string) (*coordinator.Coordinator, bool) {
	c, ok := d.coordinators[name]
	return c, ok
}

// Notifier returns a configured notifier by name.
func (d *Daemon) Notifier(name string) (notifier.Notifier, bool) {
	n, ok := d.notifiers[name]
	return n, ok
}

// Run starts every trigger and coordinator plus the webhook listener,
// then blocks until ctx is cancelled. Shutdown lets in-flight checks
// finish within a bounded grace period.
func (d *Daemon) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for name, coord := range d.coordinators {
		wg.Add(1)
		go func(name string, c *coordinator.Coordinator) {
			defer wg.Done()
			c.Run(ctx)
		}(name, coord)
	}

	for name, trig := range d.triggers {
		wg.Add(1)
		go func(name string, t trigger.Trigger) {
			defer wg.Done()
			if err := t.Run(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error().Err(err).Str("watcher", name).Msg("Trigger stopped")
			}
		}(name, trig)
	}

	if d.webhook != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.webhook.Run(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error().Err(err).Msg("Webhook listener stopped")
			}
		}()
	}

	d.logger.Info().
		Int("watchers", len(d.coordinators)).
		Int("notifiers", len(d.notifiers)).
		Msg("Lightkeeper running")

	<-ctx.Done()
	d.logger.Info().Msg("Shutting down, waiting for in-flight checks")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info().Msg("Lightkeeper stopped")
		return nil
	case <-time.After(shutdownGrace):
		d.logger.Warn().Msg("Shutdown grace period expired with work still in flight")
		return fmt.Errorf("shutdown timed out after %s", shutdownGrace)
	}
}
