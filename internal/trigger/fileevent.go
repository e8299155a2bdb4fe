package trigger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// FileEventOptions configures a filesystem-event trigger.
type FileEventOptions struct {
	// Path is the file whose changes fire the trigger.
	Path string `yaml:"path"`
	// DebounceMs coalesces bursts of events into one firing.
	DebounceMs int `yaml:"debounce_ms"`
}

// FileEvent fires when the watched file changes. The subscription is
// on the containing directory, because watching a single file breaks
// across rotation and atomic replaces; events are filtered down to the
// relevant filename and debounced.
type FileEvent struct {
	path     string
	debounce time.Duration
	fire     FireFunc
	logger   zerolog.Logger
}

// NewFileEvent validates the path and builds the trigger.
func NewFileEvent(opts FileEventOptions, fire FireFunc, logger zerolog.Logger) (*FileEvent, error) {
	if opts.Path == "" {
		return nil, errors.New("file_event trigger: path is required")
	}
	debounce := defaultDebounce
	if opts.DebounceMs > 0 {
		debounce = time.Duration(opts.DebounceMs) * time.Millisecond
	}
	return &FileEvent{
		path:     opts.Path,
		debounce: debounce,
		fire:     fire,
		logger:   logger.With().Str("trigger", "file_event").Str("path", opts.Path).Logger(),
	}, nil
}

// Run watches the parent directory until ctx is cancelled.
func (t *FileEvent) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file_event trigger: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(t.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("file_event trigger: watching %s: %w", dir, err)
	}
	t.logger.Debug().Str("dir", dir).Msg("File event trigger started")

	base := filepath.Base(t.path)
	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			// Write and Create cover appends and atomic replaces.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				if !pending.Stop() {
					<-pending.C
				}
			}
			pending = time.NewTimer(t.debounce)
			pendingC = pending.C

		case <-pendingC:
			pending = nil
			pendingC = nil
			t.fire()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn().Err(err).Msg("Filesystem watcher error")
		}
	}
}
