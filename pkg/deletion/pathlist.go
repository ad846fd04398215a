// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package deletion

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// PathList is a deduplicated set of filesystem paths, persisted
// one-per-line to an optional backing file. Used for the ignored,
// keep-from, and delete-from lists, grounded on
// original_source/src/duplicates/PathList.cpp's PathsImpl/PathsPersister
// pair collapsed into one type — Go has no template-over-enum
// equivalent to the reference's `Paths<EnumPurpose>` tag, so callers
// just keep three separate PathList values instead.
type PathList struct {
	set  map[string]struct{}
	path string // backing file; empty means in-memory only
}

// NewPathList builds an empty, non-persisted list.
func NewPathList() *PathList {
	return &PathList{set: make(map[string]struct{})}
}

// LoadPathList builds a list backed by path, loading any existing
// contents. A missing file is not an error — it just starts empty.
func LoadPathList(path string, logger *slog.Logger) (*PathList, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &PathList{set: make(map[string]struct{}), path: path}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deletion: open %s: %w", path, err)
	}
	defer f.Close()

	logger.Info("pathlist.loading", "path", path)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			l.set[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("deletion: read %s: %w", path, err)
	}
	return l, nil
}

// Add inserts path.
func (l *PathList) Add(path string) { l.set[path] = struct{}{} }

// AddAll inserts every path in paths.
func (l *PathList) AddAll(paths []string) {
	for _, p := range paths {
		l.Add(p)
	}
}

// Remove deletes path, if present.
func (l *PathList) Remove(path string) { delete(l.set, path) }

// Contains reports whether path is an exact member.
func (l *PathList) Contains(path string) bool {
	_, ok := l.set[path]
	return ok
}

// ContainsSubstring reports whether any member of the list is a
// substring of path — the "parent matches any configured path" test
// used for keep-from/delete-from resolution (findPath in the
// reference).
func (l *PathList) ContainsSubstring(path string) bool {
	for member := range l.set {
		if strings.Contains(path, member) {
			return true
		}
	}
	return false
}

// Empty reports whether the list has no members.
func (l *PathList) Empty() bool { return len(l.set) == 0 }

// Len returns the member count.
func (l *PathList) Len() int { return len(l.set) }

// Paths returns the members in sorted order.
func (l *PathList) Paths() []string {
	out := make([]string, 0, len(l.set))
	for p := range l.set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Save writes the list to its backing file, one path per line, sorted
// for deterministic output. A no-op if the list has no backing file.
// An empty list deliberately still truncates an existing file, since an
// empty ignored-set is a legitimate "nothing resolved yet" state, not
// "skip writing" (unlike the reference, which skips the write entirely
// when paths_ is empty, leaving a stale file from a prior run behind).
func (l *PathList) Save() error {
	if l.path == "" {
		return nil
	}
	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("deletion: create %s: %w", l.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range l.Paths() {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return fmt.Errorf("deletion: write %s: %w", l.path, err)
		}
	}
	return w.Flush()
}
