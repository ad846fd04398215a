// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package dupdetect

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/kidmon/pkg/progress"
	"github.com/kraklabs/kidmon/pkg/trie"
)

// ScanStats accumulates what a scan observed, surfaced to the CLI summary
// (the original's Main.cpp prints per-root counts before grouping).
type ScanStats struct {
	Roots  int
	Files  int64
	Bytes  int64
	Errors int64
}

// Scanner recursively enumerates files under a set of roots, skipping any
// directory or file whose name matches an exclusion regex, and inserts
// every regular file (following symlinks only when they resolve to a
// regular file) into a Trie.
type Scanner struct {
	Excludes []*regexp.Regexp
	Logger   *slog.Logger

	mu sync.Mutex // guards Trie mutation; AddFile is not concurrency-safe
}

// NewScanner builds a Scanner from a set of exclusion patterns.
func NewScanner(excludes []*regexp.Regexp, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{Excludes: excludes, Logger: logger}
}

func (s *Scanner) excluded(name string) bool {
	for _, re := range s.Excludes {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Scan walks every root concurrently (bounded fan-out via errgroup,
// grounded on the pack's worker-pool usage for concurrent directory
// walks), adding each qualifying regular file to t. Per-path errors are
// logged and counted, never fatal to the walk; symlink cycles are not
// followed.
func (s *Scanner) Scan(roots []string, t *trie.Trie, reporter progress.Reporter) (ScanStats, error) {
	if reporter == nil {
		reporter = progress.Noop
	}
	var stats ScanStats
	var filesSeen, bytesSeen, errCount int64
	stats.Roots = len(roots)

	g := new(errgroup.Group)
	g.SetLimit(8)

	for _, root := range roots {
		root := root
		g.Go(func() error {
			return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					atomic.AddInt64(&errCount, 1)
					s.Logger.Warn("scan.walk_error", "path", path, "err", err)
					if d != nil && d.IsDir() {
						return fs.SkipDir
					}
					return nil
				}
				base := filepath.Base(path)
				if s.excluded(base) || s.excluded(path) {
					if d.IsDir() {
						return fs.SkipDir
					}
					return nil
				}
				if d.IsDir() {
					return nil
				}

				info, err := resolveRegular(path, d)
				if err != nil {
					atomic.AddInt64(&errCount, 1)
					s.Logger.Warn("scan.stat_error", "path", path, "err", err)
					return nil
				}
				if info == nil {
					// Symlink that doesn't resolve to a regular file: skip, don't follow.
					return nil
				}

				s.mu.Lock()
				t.AddFile(path)
				s.mu.Unlock()

				n := atomic.AddInt64(&filesSeen, 1)
				atomic.AddInt64(&bytesSeen, info.Size())
				reporter.Report(n, -1, progress.PhaseScan)
				return nil
			})
		})
	}
	err := g.Wait()

	stats.Files = atomic.LoadInt64(&filesSeen)
	stats.Bytes = atomic.LoadInt64(&bytesSeen)
	stats.Errors = atomic.LoadInt64(&errCount)
	return stats, err
}

// resolveRegular returns file info for path if it is (or, via symlink,
// resolves to) a regular file. Returns (nil, nil) for a symlink that does
// not resolve to a regular file, which the caller treats as "skip".
func resolveRegular(path string, d fs.DirEntry) (os.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(path) // follows the link once; no cycle traversal
		if err != nil {
			return nil, nil //nolint:nilerr // broken symlink: skip silently, not an error
		}
		if !info.Mode().IsRegular() {
			return nil, nil
		}
		return info, nil
	}
	info, err := d.Info()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return info, nil
}
