// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounceDelay = 100 * time.Millisecond

// Watcher watches a configuration file and invokes a callback with each
// successfully reloaded configuration. Rapid successive writes, as
// editors and config-management tools tend to produce, are debounced
// into one reload. A reload that fails to parse or validate keeps the
// previous configuration and reports through the error callback.
//
// The usual wiring forwards reloaded backends to the health checker:
//
//	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
//		checker.UpdateBackends(cfg.Descriptors())
//	})
type Watcher struct {
	path          string
	fsWatcher     *fsnotify.Watcher
	callback      func(*Config)
	onError       func(error)
	logger        *zap.Logger
	debounceDelay time.Duration

	mu sync.Mutex
	// +checklocks:mu
	last *Config
	// +checklocks:mu
	running bool
	// stopped is non-nil once the watch goroutine is running; it is
	// closed when that goroutine exits.
	// +checklocks:mu
	stopped chan struct{}
}

// WatcherOption is an option used to customize the behavior of a Watcher.
type WatcherOption interface {
	apply(*Watcher)
}

type watcherOptionFunc func(*Watcher)

func (f watcherOptionFunc) apply(w *Watcher) {
	f(w)
}

// WithDebounceDelay sets how long the watcher waits after the last file
// event before reloading. The default is 100ms.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return watcherOptionFunc(func(w *Watcher) {
		w.debounceDelay = delay
	})
}

// WithOnError registers a callback for reload failures. Without one,
// failures are only logged.
func WithOnError(onError func(error)) WatcherOption {
	return watcherOptionFunc(func(w *Watcher) {
		w.onError = onError
	})
}

// WithWatcherLogger configures the watcher's logger. The default is a
// no-op logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return watcherOptionFunc(func(w *Watcher) {
		w.logger = logger
	})
}

// NewWatcher creates a watcher for the configuration file at path. The
// callback runs on the watcher's goroutine for every successful reload;
// it must not block for long.
func NewWatcher(path string, callback func(*Config), opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	watcher := &Watcher{
		path:          absPath,
		fsWatcher:     fsWatcher,
		callback:      callback,
		logger:        zap.NewNop(),
		debounceDelay: defaultDebounceDelay,
	}
	for _, opt := range opts {
		opt.apply(watcher)
	}
	return watcher, nil
}

// Start loads the configuration once, invokes the callback with it, and
// begins watching for changes until ctx is cancelled or Stop is called.
// The initial load is synchronous so a bad file fails startup instead of
// being discovered later.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	config, err := Load(w.path)
	if err != nil {
		w.abortStart()
		return err
	}
	w.mu.Lock()
	w.last = config
	w.mu.Unlock()
	if w.callback != nil {
		w.callback(config)
	}

	// watch the directory: editors replace files rather than write them
	// in place, and a watch on the old inode would go stale
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		w.abortStart()
		return err
	}
	w.logger.Info("watching configuration file", zap.String("path", w.path))
	stopped := make(chan struct{})
	w.mu.Lock()
	w.stopped = stopped
	w.mu.Unlock()
	go w.watch(ctx, stopped)
	return nil
}

// abortStart rolls back a failed Start so the watcher can be started
// again or stopped cleanly.
func (w *Watcher) abortStart() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// Stop stops watching and releases the underlying file watcher. It is
// safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stopped := w.stopped
	w.mu.Unlock()
	err := w.fsWatcher.Close()
	if stopped != nil {
		<-stopped
	}
	return err
}

// Latest returns the most recently loaded valid configuration, or nil if
// Start has not succeeded yet.
func (w *Watcher) Latest() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watcher) watch(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)
	var debounce *time.Timer
	var debounceCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug("configuration file changed", zap.String("op", event.Op.String()))
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.debounceDelay)
			debounceCh = debounce.C
		case <-debounceCh:
			debounceCh = nil
			w.reload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

func (w *Watcher) reload() {
	config, err := Load(w.path)
	if err != nil {
		w.logger.Error("configuration reload failed", zap.Error(err))
		w.reportError(err)
		return
	}
	w.mu.Lock()
	w.last = config
	w.mu.Unlock()
	w.logger.Info("configuration reloaded", zap.Int("backends", len(config.Backends)))
	if w.callback != nil {
		w.callback(config)
	}
}

func (w *Watcher) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}
