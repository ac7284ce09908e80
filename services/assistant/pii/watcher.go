// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pii

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PatternWatcher reloads an Engine when an external pattern file changes.
//
// # Description
//
// Watches the directory containing the pattern file and reloads the engine
// after a debounce window, so editors that write via rename-and-replace only
// trigger a single reload. A file that fails to parse is logged and skipped;
// the engine keeps its previous table.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads happen from a single goroutine.
type PatternWatcher struct {
	path     string
	engine   *Engine
	watcher  *fsnotify.Watcher
	debounce time.Duration
	log      *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewPatternWatcher creates a watcher that keeps engine in sync with the
// pattern file at path.
//
// # Inputs
//
//   - path: Absolute path to the external pattern file.
//   - engine: Engine to reload when the file changes.
//   - log: Logger for reload outcomes (nil uses slog.Default).
//
// # Outputs
//
//   - *PatternWatcher: Ready-to-use watcher (call Start to begin watching).
//   - error: Non-nil if the underlying fsnotify watcher could not be created.
func NewPatternWatcher(path string, engine *Engine, log *slog.Logger) (*PatternWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &PatternWatcher{
		path:     path,
		engine:   engine,
		watcher:  watcher,
		debounce: 250 * time.Millisecond,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The goroutine exits when Stop is called or the
// context is canceled.
func (w *PatternWatcher) Start(ctx context.Context) error {
	// Watch the parent directory: editors replace files by rename, which
	// would silently detach a watch placed on the file itself.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *PatternWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *PatternWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("pattern watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *PatternWatcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("failed to read pattern file, keeping previous table",
			"path", w.path, "error", err)
		return
	}
	if err := w.engine.Reload(data); err != nil {
		w.log.Warn("failed to reload pattern file, keeping previous table",
			"path", w.path, "error", err)
		return
	}
	w.log.Info("reloaded pii pattern table", "path", w.path)
}
