// Package watch reloads the manual settings overrides when the config file
// changes on disk, so caregiver edits take effect without a restart.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"careclock/internal/config"
	"careclock/internal/util"
)

// Watcher observes the config file and delivers reloaded overrides to a
// callback.
type Watcher struct {
	path     string
	onChange func(config.Overrides)
	logger   *util.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// New creates a watcher for the given config file path.
func New(path string, onChange func(config.Overrides), logger *util.Logger) *Watcher {
	if logger == nil {
		logger = util.GetDefaultLogger()
	}
	return &Watcher{path: path, onChange: onChange, logger: logger}
}

// Start begins watching. Editors replace files rather than writing in
// place, so the parent directory is watched and events are filtered by
// name.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.watcher = watcher
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go w.loop(ctx)

	w.logger.Info("Watching config file for changes", "path", w.path)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	// Debounce so a save that produces several events reloads once
	var debounce *time.Timer
	const debounceDelay = 200 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	overrides, err := config.ReloadOverrides(w.path)
	if err != nil {
		// Keep the previous overrides; a half-written file should not
		// wipe the caregiver's settings.
		w.logger.Warn("Failed to reload config file, keeping previous overrides", "error", err)
		return
	}

	w.logger.Info("Config file reloaded")
	w.onChange(overrides)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
