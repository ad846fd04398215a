// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch debounces filesystem change notifications into a single
// re-run callback: recursively add every directory under a root to an
// fsnotify.Watcher, skip well-known noisy directories, and coalesce a
// burst of events behind one debounce timer before firing.
package watch

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SkipDirs names directories RepoWatcher never descends into.
var SkipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, "bin": true,
}

// DefaultDebounce is how long RepoWatcher waits after the last observed
// event before firing its callback.
const DefaultDebounce = 2 * time.Second

// RepoWatcher watches one or more root directories and invokes a
// callback once activity under them goes quiet for Debounce. It backs
// the dups CLI's optional `--watch-repo-dir` debug flag, which re-runs a
// scan whenever files under a root change.
type RepoWatcher struct {
	Debounce time.Duration
	Logger   *slog.Logger

	watcher *fsnotify.Watcher
}

// NewRepoWatcher builds a watcher with default debounce; call AddRoot for
// each directory to observe before calling Run.
func NewRepoWatcher(logger *slog.Logger) (*RepoWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &RepoWatcher{Debounce: DefaultDebounce, Logger: logger, watcher: w}, nil
}

// Close releases the underlying fsnotify watcher.
func (r *RepoWatcher) Close() error { return r.watcher.Close() }

// AddRoot recursively registers root and every non-skipped subdirectory
// with the watcher. Permission errors and missing directories are logged
// and skipped rather than aborting the whole walk.
func (r *RepoWatcher) AddRoot(root string) {
	added := 0
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if SkipDirs[base] || (strings.HasPrefix(base, ".") && base != filepath.Base(root)) {
			return filepath.SkipDir
		}
		if err := r.watcher.Add(path); err != nil {
			r.Logger.Warn("watch.add_failed", "path", path, "err", err)
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		added++
		return nil
	})
	r.Logger.Debug("watch.root_added", "root", root, "dirs", added)
}

// Run blocks, invoking onChange once per debounce window after the last
// observed filesystem event, until the watcher is closed.
func (r *RepoWatcher) Run(onChange func()) {
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.Logger.Debug("watch.event", "name", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(r.Debounce)
			timerCh = timer.C
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.Logger.Warn("watch.error", "err", err)
		case <-timerCh:
			timerCh = nil
			onChange()
		}
	}
}
