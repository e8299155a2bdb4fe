// Package registry maps plugin type names to constructors for the
// four watcher roles. The registry is an explicit object built once at
// startup and handed to the daemon builder, so tests can assemble
// isolated registries with fakes.
package registry

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lightkeeper/lightkeeper/internal/config"
	"github.com/lightkeeper/lightkeeper/internal/evaluator"
	"github.com/lightkeeper/lightkeeper/internal/notifier"
	"github.com/lightkeeper/lightkeeper/internal/observer"
	"github.com/lightkeeper/lightkeeper/internal/trigger"
)

// Factory signatures per role. Each decodes its own option schema from
// the raw config mapping.
type (
	ObserverFactory  func(watcher string, opts config.Options, stateDir string, logger zerolog.Logger) (observer.Observer, error)
	EvaluatorFactory func(opts config.Options) (evaluator.Evaluator, error)
	NotifierFactory  func(name string, opts config.Options, logger zerolog.Logger) (notifier.Notifier, error)
	TriggerFactory   func(opts config.Options, fire trigger.FireFunc, logger zerolog.Logger) (trigger.Trigger, error)
)

// Registry holds the known plugin variants per role.
type Registry struct {
	observers  map[string]ObserverFactory
	evaluators map[string]EvaluatorFactory
	notifiers  map[string]NotifierFactory
	triggers   map[string]TriggerFactory
}

// New returns a registry with all built-in variants registered.
// The webhook trigger is not listed here: it is a shared listener the
// daemon wires directly, not a per-watcher loop.
func New() *Registry {
	r := &Registry{
		observers:  make(map[string]ObserverFactory),
		evaluators: make(map[string]EvaluatorFactory),
		notifiers:  make(map[string]NotifierFactory),
		triggers:   make(map[string]TriggerFactory),
	}

	r.RegisterObserver("log_pattern", func(watcher string, opts config.Options, stateDir string, logger zerolog.Logger) (observer.Observer, error) {
		var o observer.LogPatternOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return observer.NewLogPattern(watcher, o, stateDir, logger)
	})
	r.RegisterObserver("metric", func(_ string, opts config.Options, _ string, logger zerolog.Logger) (observer.Observer, error) {
		var o observer.MetricOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return observer.NewMetric(o, logger)
	})
	r.RegisterObserver("service", func(_ string, opts config.Options, _ string, logger zerolog.Logger) (observer.Observer, error) {
		var o observer.ServiceOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return observer.NewService(o, logger)
	})

	r.RegisterEvaluator("pattern_match", func(opts config.Options) (evaluator.Evaluator, error) {
		var o evaluator.PatternMatchOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return evaluator.NewPatternMatch(o)
	})
	r.RegisterEvaluator("threshold", func(opts config.Options) (evaluator.Evaluator, error) {
		var o evaluator.ThresholdOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return evaluator.NewThreshold(o)
	})
	r.RegisterEvaluator("sequential_growth", func(opts config.Options) (evaluator.Evaluator, error) {
		var o evaluator.GrowthOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return evaluator.NewGrowth(o)
	})
	r.RegisterEvaluator("state_change", func(opts config.Options) (evaluator.Evaluator, error) {
		var o evaluator.StateChangeOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return evaluator.NewStateChange(o)
	})

	r.RegisterNotifier("console", func(name string, _ config.Options, _ zerolog.Logger) (notifier.Notifier, error) {
		return notifier.NewConsole(name), nil
	})
	r.RegisterNotifier("pushover", func(name string, opts config.Options, logger zerolog.Logger) (notifier.Notifier, error) {
		var o notifier.PushoverOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return notifier.NewPushover(name, o, logger)
	})
	r.RegisterNotifier("webhook", func(name string, opts config.Options, logger zerolog.Logger) (notifier.Notifier, error) {
		var o notifier.WebhookOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return notifier.NewWebhook(name, o, logger)
	})

	r.RegisterTrigger("temporal", func(opts config.Options, fire trigger.FireFunc, logger zerolog.Logger) (trigger.Trigger, error) {
		var o trigger.TemporalOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return trigger.NewTemporal(o, fire, logger)
	})
	r.RegisterTrigger("file_event", func(opts config.Options, fire trigger.FireFunc, logger zerolog.Logger) (trigger.Trigger, error) {
		var o trigger.FileEventOptions
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return trigger.NewFileEvent(o, fire, logger)
	})
	r.RegisterTrigger("manual", func(_ config.Options, fire trigger.FireFunc, _ zerolog.Logger) (trigger.Trigger, error) {
		return trigger.NewManual(fire), nil
	})

	return r
}

// RegisterObserver adds or replaces an observer variant.
func (r *Registry) RegisterObserver(name string, f ObserverFactory) { r.observers[name] = f }

// RegisterEvaluator adds or replaces an evaluator variant.
func (r *Registry) RegisterEvaluator(name string, f EvaluatorFactory) { r.evaluators[name] = f }

// RegisterNotifier adds or replaces a notifier variant.
func (r *Registry) RegisterNotifier(name string, f NotifierFactory) { r.notifiers[name] = f }

// RegisterTrigger adds or replaces a trigger variant.
func (r *Registry) RegisterTrigger(name string, f TriggerFactory) { r.triggers[name] = f }

// Observer looks up an observer factory by type name.
func (r *Registry) Observer(name string) (ObserverFactory, error) {
	f, ok := r.observers[name]
	if !ok {
		return nil, fmt.Errorf("unknown observer type %q", name)
	}
	return f, nil
}

// Evaluator looks up an evaluator factory by type name.
func (r *Registry) Evaluator(name string) (EvaluatorFactory, error) {
	f, ok := r.evaluators[name]
	if !ok {
		return nil, fmt.Errorf("unknown evaluator type %q", name)
	}
	return f, nil
}

// Notifier looks up a notifier factory by type name.
func (r *Registry) Notifier(name string) (NotifierFactory, error) {
	f, ok := r.notifiers[name]
	if !ok {
		return nil, fmt.Errorf("unknown notifier type %q", name)
	}
	return f, nil
}

// Trigger looks up a trigger factory by type name.
func (r *Registry) Trigger(name string) (TriggerFactory, error) {
	f, ok := r.triggers[name]
	if !ok {
		return nil, fmt.Errorf("unknown trigger type %q", name)
	}
	return f, nil
}
