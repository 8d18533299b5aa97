// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mode

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// UpdateCallback is invoked after a mode file change has been applied.
// eventType is one of "modify", "delete" or "validation_failed".
type UpdateCallback func(eventType, filePath string, err error)

// WatcherConfig configures hot reload.
type WatcherConfig struct {
	DebounceMs int // default 300
	Logger     *zap.Logger
	OnUpdate   UpdateCallback
}

// Watcher reloads mode files when they change on disk.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	config  WatcherConfig
	logger  *zap.Logger

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a watcher for the manager's mode directory.
func NewWatcher(manager *Manager, config WatcherConfig) (*Watcher, error) {
	if manager.Dir() == "" {
		return nil, fmt.Errorf("hot reload requires a mode directory")
	}
	if config.DebounceMs <= 0 {
		config.DebounceMs = 300
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		manager:        manager,
		watcher:        fw,
		config:         config,
		logger:         config.Logger,
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the directory is registered.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.manager.Dir(), 0o755); err != nil {
		return fmt.Errorf("failed to create mode directory: %w", err)
	}
	if err := w.watcher.Add(w.manager.Dir()); err != nil {
		return fmt.Errorf("failed to watch mode directory: %w", err)
	}
	w.logger.Info("Started mode hot-reload watcher",
		zap.String("dir", w.manager.Dir()),
		zap.Int("debounce_ms", w.config.DebounceMs))

	w.started.Store(true)
	go w.loop(ctx)
	return nil
}

// Stop ends the watch loop and waits for it. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()

		w.debounceMu.Lock()
		for _, t := range w.debounceTimers {
			t.Stop()
		}
		w.debounceMu.Unlock()
	})
	if w.started.Load() {
		<-w.doneCh
	}
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isModeFile(event.Name) {
				continue
			}
			w.debounce(event.Name, func() { w.apply(event) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Mode watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) debounce(key string, fn func()) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[key]; ok {
		t.Stop()
	}
	w.debounceTimers[key] = time.AfterFunc(time.Duration(w.config.DebounceMs)*time.Millisecond, func() {
		fn()
		w.debounceMu.Lock()
		delete(w.debounceTimers, key)
		w.debounceMu.Unlock()
	})
}

func (w *Watcher) apply(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		removed := w.manager.RemoveSource(event.Name)
		w.logger.Info("Mode file removed",
			zap.String("file", event.Name),
			zap.Strings("modes", removed))
		w.notify("delete", event.Name, nil)

	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		if _, err := w.manager.LoadFile(event.Name); err != nil {
			// Keep the previous definition on a bad edit.
			w.logger.Error("Mode validation failed, keeping previous definition",
				zap.String("file", event.Name),
				zap.Error(err))
			w.notify("validation_failed", event.Name, err)
			return
		}
		w.notify("modify", event.Name, nil)
	}
}

func (w *Watcher) notify(eventType, path string, err error) {
	if w.config.OnUpdate != nil {
		w.config.OnUpdate(eventType, path, err)
	}
}
