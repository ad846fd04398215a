// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package deletion

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kraklabs/kidmon/pkg/dupdetect"
	"github.com/kraklabs/kidmon/pkg/osiface"
	"github.com/kraklabs/kidmon/pkg/progress"
)

// Config bundles everything the Workflow needs to resolve one run's
// worth of duplicate groups.
type Config struct {
	Strategy   Strategy
	Ignored    *PathList
	KeepFrom   *PathList
	DeleteFrom *PathList
	IO         UserIO
	Progress   progress.Reporter
	Logger     *slog.Logger
	// Opener opens a group's parent directories in the OS file browser
	// for the interactive menu's "o" option. Nil disables the option.
	Opener osiface.DirectoryOpener
}

// Workflow drives every DupGroup from a Detector through partition,
// auto-resolution, and (if needed) the interactive menu, grounded on
// GroupProcessor/deleteDuplicates in
// original_source/src/duplicates/DuplicateDeletion.cpp.
type Workflow struct {
	cfg Config

	autoDelete []string
	selective  []string
}

// NewWorkflow wires cfg, filling in defaults for any nil collaborator.
func NewWorkflow(cfg Config) *Workflow {
	if cfg.Ignored == nil {
		cfg.Ignored = NewPathList()
	}
	if cfg.KeepFrom == nil {
		cfg.KeepFrom = NewPathList()
	}
	if cfg.DeleteFrom == nil {
		cfg.DeleteFrom = NewPathList()
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.Noop
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Workflow{cfg: cfg}
}

// Run resolves every group in groups (typically collected from
// Detector.EnumGroups beforehand), stopping early if the user quits
// out of the interactive menu. It always persists the ignored list
// before returning, even on early exit, matching the reference's
// "idempotence" guarantee that no group is ever re-asked about twice.
func (w *Workflow) Run(groups []dupdetect.DupGroup) (bool, error) {
	cont := true
	for idx, g := range groups {
		if !w.processGroup(g, idx+1, len(groups)) {
			cont = false
			break
		}
	}
	if err := w.cfg.Ignored.Save(); err != nil {
		return cont, fmt.Errorf("deletion: save ignored list: %w", err)
	}
	return cont, nil
}

// processGroup returns false if the user chose to quit entirely.
func (w *Workflow) processGroup(group dupdetect.DupGroup, idx, total int) bool {
	w.cfg.Progress.Report(int64(idx), int64(total), "resolve")

	for {
		w.categorize(group)

		if len(w.selective) == 0 {
			// Safety flip: never let the last copies of a file fall into
			// automatic deletion just because every path happened to
			// match a delete-from substring.
			w.selective = w.autoDelete
			w.autoDelete = nil
		} else {
			w.deleteAll(w.autoDelete)
		}

		flow := w.handleSelective(group)
		if flow != flowRetry {
			return flow != flowQuit
		}
	}
}

type flow int

const (
	flowDone flow = iota
	flowRetry
	flowQuit
)

func (w *Workflow) categorize(group dupdetect.DupGroup) {
	w.autoDelete = w.autoDelete[:0]
	w.selective = w.selective[:0]
	for _, e := range group.Entries {
		if w.cfg.Ignored.Contains(e.Path) {
			continue
		}
		if w.cfg.DeleteFrom.ContainsSubstring(filepath.Dir(e.Path)) {
			w.autoDelete = append(w.autoDelete, e.Path)
		} else {
			w.selective = append(w.selective, e.Path)
		}
	}
}

func (w *Workflow) deleteAll(paths []string) {
	for _, p := range paths {
		if err := w.cfg.Strategy.Apply(p); err != nil {
			w.cfg.Logger.Error("deletion.failed", "path", p, "err", err)
		}
	}
}

func (w *Workflow) handleSelective(group dupdetect.DupGroup) flow {
	if len(w.selective) <= 1 {
		return flowDone
	}

	if w.resolveByKeepPath() {
		return flowDone
	}
	if w.resolveByFilenamePattern() {
		return flowDone
	}

	if len(group.Entries) > 0 {
		w.cfg.IO.PrintText(fmt.Sprintf("Size: %d SHA256: %s\n", group.Entries[0].Size, group.Entries[0].Sha256))
	}
	sort.Strings(w.selective)
	return w.interactive()
}

// resolveByKeepPath keeps the single entry whose parent matches a
// keep-from substring and deletes the rest; it's a no-op (leaving
// w.selective untouched) when zero or more than one entry matches.
func (w *Workflow) resolveByKeepPath() bool {
	keepIdx := -1
	for i, p := range w.selective {
		if w.cfg.KeepFrom.ContainsSubstring(filepath.Dir(p)) {
			if keepIdx != -1 {
				return false // ambiguous: more than one candidate
			}
			keepIdx = i
		}
	}
	if keepIdx == -1 {
		return false
	}
	kept := w.selective[keepIdx]
	rest := make([]string, 0, len(w.selective)-1)
	for i, p := range w.selective {
		if i != keepIdx {
			rest = append(rest, p)
		}
	}
	w.deleteAll(rest)
	w.selective = []string{kept}
	return true
}

var copyPatternSuffix = regexp.MustCompile(`(\(\d+\)|_copy|copy)$`)

// resolveByFilenamePattern keeps the entry with the shortest stem if
// every other stem is that shortest stem plus a trailing "(N)",
// "_copy", or "copy" token, grounded on isDuplicateNamingPattern.
func (w *Workflow) resolveByFilenamePattern() bool {
	if len(w.selective) < 2 {
		return false
	}

	shortestIdx := 0
	shortest := stem(w.selective[0])
	for i, p := range w.selective {
		if s := stem(p); len(s) < len(shortest) {
			shortest = s
			shortestIdx = i
		}
	}

	for _, p := range w.selective {
		s := stem(p)
		if s == shortest {
			continue
		}
		if !strings.HasPrefix(s, shortest) {
			return false
		}
		suffix := strings.TrimSpace(s[len(shortest):])
		if len(suffix) < 2 {
			return false
		}
		if !copyPatternSuffix.MatchString(suffix) {
			return false
		}
	}

	kept := w.selective[shortestIdx]
	rest := make([]string, 0, len(w.selective)-1)
	for i, p := range w.selective {
		if i != shortestIdx {
			rest = append(rest, p)
		}
	}
	w.deleteAll(rest)
	w.selective = []string{kept}
	return true
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// interactive presents w.selective through a keep-one-of-these menu and
// returns once the group is Done or the user Quits.
func (w *Workflow) interactive() flow {
	menu := NewMenu("Enter a number to keep, or select an action")

	menu.Add(fmt.Sprintf("[?] Number from 1 and %d", len(w.selective)), Range(1, len(w.selective)), func(io UserIO) Navigation {
		idx := atoiOrZero(io.CurrentPrompt())
		kept := w.selective[idx-1]
		rest := append(append([]string{}, w.selective[:idx-1]...), w.selective[idx:]...)
		w.deleteAll(rest)
		w.selective = []string{kept}
		return Done
	})

	if w.cfg.Opener != nil {
		menu.Add("[o] Open directories", Key('o'), func(io UserIO) Navigation {
			for _, dir := range candidateParentDirs(w.selective) {
				if err := w.cfg.Opener.OpenDirectory(dir); err != nil {
					w.cfg.Logger.Error("deletion.open_directory_failed", "dir", dir, "err", err)
				}
			}
			return Continue
		})
	}

	menu.Add("[i] Ignore", Key('i'), func(io UserIO) Navigation {
		w.cfg.Ignored.AddAll(w.selective)
		w.cfg.Logger.Info("deletion.group_ignored", "count", len(w.selective))
		// Done, not Continue: the group is resolved (into the ignored
		// set) and review moves on to the next one. See DESIGN.md for
		// why this departs from the literal reference.
		return Done
	})

	menu.Add("[k] Edit keep-from list", Key('k'), func(io UserIO) Navigation {
		return w.editList("keep-from list", w.cfg.KeepFrom, io)
	})

	menu.Add("[d] Edit delete-from list", Key('d'), func(io UserIO) Navigation {
		return w.editList("delete-from list", w.cfg.DeleteFrom, io)
	})

	menu.Add("[v] View keep/delete list", Key('v'), func(io UserIO) Navigation {
		io.PrintText(formatPathList("Keep from paths:", w.cfg.KeepFrom))
		io.PrintText(formatPathList("Delete from paths:", w.cfg.DeleteFrom))
		return Continue
	})

	switch RunMenu(w.cfg.IO, menu, false) {
	case Quit:
		return flowQuit
	default:
		return flowDone
	}
}

func (w *Workflow) editList(name string, list *PathList, io UserIO) Navigation {
	menu := NewMenu("Edit " + name)
	menu.Add("[a] Add to list", Key('a'), func(io UserIO) Navigation {
		dirs := candidateDirs(w.selective)
		if len(dirs) == 0 {
			io.PrintText("No candidate directories to add.\n")
			return Continue
		}
		io.PrintText(formatDirs(dirs))
		sub := NewMenu("Add to " + name)
		sub.Add(fmt.Sprintf("[?] Number from 1 and %d", len(dirs)), Range(1, len(dirs)), func(io UserIO) Navigation {
			idx := atoiOrZero(io.CurrentPrompt())
			list.Add(dirs[idx-1])
			return Continue
		})
		return RunMenu(io, sub, true)
	})
	menu.Add("[d] Delete from list", Key('d'), func(io UserIO) Navigation {
		paths := list.Paths()
		if len(paths) == 0 {
			io.PrintText("Path list is empty.\n")
			return Continue
		}
		io.PrintText(formatDirs(paths))
		sub := NewMenu("Delete from " + name)
		sub.Add(fmt.Sprintf("[?] Number from 1 and %d", len(paths)), Range(1, len(paths)), func(io UserIO) Navigation {
			idx := atoiOrZero(io.CurrentPrompt())
			list.Remove(paths[idx-1])
			return Continue
		})
		return RunMenu(io, sub, true)
	})
	return RunMenu(io, menu, true)
}

// candidateParentDirs mirrors openDirectories: the deduplicated set of
// immediate parent directories across paths, in deterministic order.
func candidateParentDirs(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	var out []string
	for _, p := range paths {
		dir := filepath.Dir(p)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// candidateDirs mirrors createDirectoriesList: every unique proper
// ancestor directory across files, excluding the full file paths
// themselves, deduplicated.
func candidateDirs(paths []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range paths {
		dir := filepath.Dir(p)
		for dir != "." && dir != string(filepath.Separator) {
			if _, ok := seen[dir]; !ok {
				seen[dir] = struct{}{}
				out = append(out, dir)
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	sort.Strings(out)
	return out
}

func formatDirs(dirs []string) string {
	var b strings.Builder
	for i, d := range dirs {
		fmt.Fprintf(&b, "%3d: %s\n", i+1, d)
	}
	return b.String()
}

func formatPathList(desc string, l *PathList) string {
	var b strings.Builder
	b.WriteString(desc)
	b.WriteByte('\n')
	paths := l.Paths()
	if len(paths) == 0 {
		b.WriteString("    Path list is empty\n")
		return b.String()
	}
	for i, p := range paths {
		fmt.Fprintf(&b, "  %3d. %s\n", i+1, p)
	}
	return b.String()
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
