// Package watcher triggers lifecycle resets from filesystem changes.
//
// A Watcher observes a set of files or directories and, after a
// debounce window, invokes its trigger function, which is typically
// bound to the supervisor's Reset with the application constructor.
// The watcher is itself a system component, so a reset it triggers
// tears it down and starts a fresh one watching the new configuration.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rekindle/rekindle/pkg/config"
	"github.com/rekindle/rekindle/pkg/system"
	"github.com/rekindle/rekindle/pkg/telemetry"
)

// TriggerFunc is invoked after a debounced batch of filesystem
// changes. Errors are logged, not retried; the next change triggers
// again.
type TriggerFunc func(ctx context.Context) error

// Watcher observes configured paths and fires the trigger on change.
type Watcher struct {
	cfg     config.WatcherConfig
	trigger TriggerFunc
	logger  *telemetry.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a watcher for the configured paths. The trigger must not
// be nil.
func New(cfg config.WatcherConfig, trigger TriggerFunc, logger *telemetry.Logger) (*Watcher, error) {
	if trigger == nil {
		return nil, fmt.Errorf("watcher trigger is required")
	}
	if logger == nil {
		logger = telemetry.Default()
	}
	return &Watcher{
		cfg:     cfg,
		trigger: trigger,
		logger:  logger.NewSubsystemLogger("watcher"),
	}, nil
}

// Start implements system.Component. It registers every configured
// path and launches the event loop.
func (w *Watcher) Start(ctx context.Context) (system.Component, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return w, fmt.Errorf("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range w.cfg.Paths {
		if err := addPath(fsw, path); err != nil {
			_ = fsw.Close()
			return w, fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	w.watcher = fsw
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.processEvents(loopCtx, fsw)

	w.logger.WithField("paths", w.cfg.Paths).Info("watching for changes")
	return w, nil
}

// Stop implements system.Component.
func (w *Watcher) Stop(ctx context.Context) (system.Component, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return w, nil
	}

	w.cancel()
	err := w.watcher.Close()
	<-w.done
	w.watcher = nil
	w.cancel = nil
	w.done = nil
	if err != nil {
		return w, fmt.Errorf("failed to close watcher: %w", err)
	}
	w.logger.Info("watcher stopped")
	return w, nil
}

// addPath registers a file, or a directory tree, with the fsnotify
// watcher.
func addPath(fsw *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fsw.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(p)
		}
		return nil
	})
}

// processEvents coalesces bursts of events into a single trigger per
// debounce window.
func (w *Watcher) processEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.WithField("file", event.Name).WithField("op", event.Op.String()).Debug("change detected")

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.cfg.Debounce.Std(), func() {
				// Detached context: the reset this triggers will stop
				// this very watcher, and the transition must run to its
				// terminal outcome regardless.
				if err := w.trigger(context.Background()); err != nil {
					w.logger.WithError(err).Error("reset trigger failed")
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("watch error")
		}
	}
}
