// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch rebuilds the deployable unit when the compiled server input
// changes. This is a development convenience: one failed rebuild logs and
// keeps watching rather than exiting.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the event bursts editors and compilers emit.
const DefaultDebounce = 300 * time.Millisecond

// Rebuild is invoked after a debounced change burst.
type Rebuild func(ctx context.Context) error

// Watcher drives debounced rebuilds from filesystem events.
type Watcher struct {
	roots    []string
	debounce time.Duration
	rebuild  Rebuild
	log      *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// New builds a Watcher over the given roots. Zero debounce selects
// DefaultDebounce; a nil logger falls back to slog.Default().
func New(roots []string, debounce time.Duration, rebuild Rebuild, log *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{roots: roots, debounce: debounce, rebuild: rebuild, log: log}
}

// Run watches until the context is cancelled. Directories nested under the
// roots are registered recursively, including ones created while watching.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	for _, root := range w.roots {
		if err := addRecursive(fsw, root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}
	w.log.Info("watching for changes", "roots", w.roots, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				// New directories must be registered to keep coverage.
				_ = addRecursive(fsw, event.Name)
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) ||
				event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				w.schedule(ctx)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// schedule arms (or re-arms) the debounce timer.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.log.Info("input changed, rebuilding")
		if err := w.rebuild(ctx); err != nil {
			w.log.Error("rebuild failed", "error", err)
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Roots may not exist yet on the first run.
			return nil
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
