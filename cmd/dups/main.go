// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command dups scans a set of directories, groups files that share
// identical content, and drives an interactive (or automatic) deletion
// workflow over the resulting duplicate groups.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kidmon/internal/errors"
	"github.com/kraklabs/kidmon/internal/metrics"
	"github.com/kraklabs/kidmon/internal/output"
	"github.com/kraklabs/kidmon/internal/ui"
	"github.com/kraklabs/kidmon/internal/watch"
	"github.com/kraklabs/kidmon/pkg/deletion"
	"github.com/kraklabs/kidmon/pkg/dupdetect"
	"github.com/kraklabs/kidmon/pkg/osiface"
	"github.com/kraklabs/kidmon/pkg/progress"
	"github.com/kraklabs/kidmon/pkg/trie"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("dups", flag.ContinueOnError)

	cfgFile := fs.String("cfg-file", "", "TOML configuration file")
	scanDirs := fs.StringArray("scan-dir", nil, "Directory to scan (repeatable)")
	excludes := fs.StringArray("exclude", nil, "Exclusion regex (repeatable)")
	keepPaths := fs.StringArray("keep-path", nil, "Keep-from path substring (repeatable)")
	deletePaths := fs.StringArray("delete-path", nil, "Delete-from path substring (repeatable)")
	minSize := fs.Uint64("min-size", 0, "Minimum file size in bytes to consider")
	maxSize := fs.Uint64("max-size", 0, "Maximum file size in bytes to consider (0 = unbounded)")
	updateFreq := fs.Uint64("update-freq", 0, "Progress update throttle in milliseconds")
	allFiles := fs.String("all-files", "", "Write every scanned path to this file")
	dupFiles := fs.String("dup-files", "", "Write duplicate groups to this file")
	ignFiles := fs.String("ign-files", "", "Ignored-group path list file (persisted across runs)")
	dryRun := fs.Bool("dry-run", false, "Log deletions instead of performing them")
	backupDir := fs.String("backup-dir", "", "Move deleted files here instead of unlinking them")
	jsonOut := fs.Bool("json", false, "Summarize the run as JSON instead of human-readable text")
	noColor := fs.Bool("no-color", false, "Disable colorized output")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty disables)")
	watchDir := fs.String("watch-repo-dir", "", "Debug: re-run the scan whenever files under this root change")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: dups [options]

Scans the configured directories, groups files by identical content, and
resolves duplicate groups via the configured deletion strategy.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	ui.InitColors(*noColor)

	cfg, err := LoadConfig(*cfgFile)
	if err != nil {
		errors.FatalError(err, *jsonOut)
		return 1
	}
	mergeFlagOverrides(cfg, fs, *scanDirs, *excludes, *minSize, *maxSize, *updateFreq, *allFiles, *dupFiles, *ignFiles, *dryRun)

	if len(cfg.ScanDirectories) == 0 {
		errors.FatalError(errors.NewConfigError(
			"No scan directories configured",
			"Pass --scan-dir at least once or set scan_directories in the config file.",
			"Example: dups --scan-dir /home/me/Downloads",
			nil,
		), *jsonOut)
		return 2
	}

	excludeRegexes, err := compileExcludes(cfg.ExclusionPatterns)
	if err != nil {
		errors.FatalError(err, *jsonOut)
		return 2
	}

	allFilesPath, dupFilesPath, ignFilesPath, err := rebaseOutputs(cfg)
	if err != nil {
		errors.FatalError(err, *jsonOut)
		return 1
	}

	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, *metricsAddr); err != nil {
				logger.Warn("metrics.serve_failed", "err", err)
			}
		}()
	}

	runOnce := func() (bool, error) {
		return scanAndResolve(cfg, *keepPaths, *deletePaths, excludeRegexes,
			allFilesPath, dupFilesPath, ignFilesPath, *dryRun, *backupDir,
			time.Duration(cfg.UpdateFreqMs)*time.Millisecond, *jsonOut, logger)
	}

	if _, err := runOnce(); err != nil {
		errors.FatalError(err, *jsonOut)
		return 1
	}

	if *watchDir != "" {
		runWatchLoop(*watchDir, logger, runOnce)
	}

	return 0
}

// runWatchLoop re-runs the scan whenever files under dir change, until
// the process is interrupted; a debug-only convenience for long-lived
// watch directories.
func runWatchLoop(dir string, logger *slog.Logger, rerun func() (bool, error)) {
	w, err := watch.NewRepoWatcher(logger)
	if err != nil {
		logger.Warn("watch.init_failed", "err", err)
		return
	}
	defer w.Close()
	w.AddRoot(dir)
	ui.Infof("Watching %s for changes (debounce %s)...", dir, watch.DefaultDebounce)
	w.Run(func() {
		ui.Info("Change detected, re-running scan...")
		if _, err := rerun(); err != nil {
			logger.Error("watch.rerun_failed", "err", err)
		}
	})
}

// mergeFlagOverrides layers CLI flag values over whatever LoadConfig
// already populated from the TOML file; repeated flags append rather
// than replace so --scan-dir can augment a config file's list.
func mergeFlagOverrides(cfg *Config, fs *flag.FlagSet, scanDirs, excludes []string, minSize, maxSize, updateFreq uint64,
	allFiles, dupFiles, ignFiles string, dryRun bool) {
	cfg.ScanDirectories = append(cfg.ScanDirectories, scanDirs...)
	cfg.ExclusionPatterns = append(cfg.ExclusionPatterns, excludes...)
	if fs.Changed("min-size") {
		cfg.MinFileSizeBytes = minSize
	}
	if fs.Changed("max-size") {
		cfg.MaxFileSizeBytes = maxSize
	}
	if fs.Changed("update-freq") {
		cfg.UpdateFreqMs = updateFreq
	}
	if allFiles != "" {
		cfg.AllFiles = allFiles
	}
	if dupFiles != "" {
		cfg.DupFiles = dupFiles
	}
	if ignFiles != "" {
		cfg.IgnFiles = ignFiles
	}
	if dryRun {
		cfg.DryRun = true
	}
}

func rebaseOutputs(cfg *Config) (all, dup, ign string, err error) {
	if all, err = rebaseOutputPath(cfg.AllFiles); err != nil {
		return
	}
	if dup, err = rebaseOutputPath(cfg.DupFiles); err != nil {
		return
	}
	if ign, err = rebaseOutputPath(cfg.IgnFiles); err != nil {
		return
	}
	return
}

// scanAndResolve runs one full scan-group-resolve pass. It returns false
// for cont when the user quit the interactive workflow early.
func scanAndResolve(cfg *Config, keepPaths, deletePaths []string, excludeRegexes []*regexp.Regexp,
	allFilesPath, dupFilesPath, ignFilesPath string, dryRun bool, backupDir string,
	updateFreq time.Duration, jsonOut bool, logger *slog.Logger) (bool, error) {

	t := trie.New()
	scanner := dupdetect.NewScanner(excludeRegexes, logger)
	reporter := newCLIProgress(updateFreq, jsonOut)

	stats, err := scanner.Scan(cfg.ScanDirectories, t, reporter)
	if err != nil {
		logger.Warn("dups.scan_completed_with_errors", "err", err)
	}
	metrics.ScanFilesTotal.Add(float64(stats.Files))
	metrics.ScanBytesTotal.Add(float64(stats.Bytes))
	if !jsonOut {
		ui.Infof("Scanned %d roots: %d files, %s, %d errors",
			stats.Roots, stats.Files, humanizeBytes(stats.Bytes), stats.Errors)
	}

	detector := dupdetect.NewDetector(t, dupdetect.DetectorOptions{
		MinSizeBytes: cfg.MinFileSizeBytes,
		MaxSizeBytes: cfg.MaxFileSizeBytes,
	}, logger)

	if allFilesPath != "" {
		if err := writeAllFiles(detector, allFilesPath, reporter); err != nil {
			return true, err
		}
	}

	var groups []dupdetect.DupGroup
	if err := detector.EnumGroups(reporter, func(g dupdetect.DupGroup) bool {
		groups = append(groups, g)
		return true
	}); err != nil {
		return true, err
	}
	if !jsonOut {
		ui.Successf("Found %d duplicate groups", len(groups))
	}

	if dupFilesPath != "" {
		if err := writeDupFiles(groups, dupFilesPath); err != nil {
			return true, err
		}
	}

	strategy, closeStrategy, err := selectStrategy(dryRun, backupDir, logger)
	if err != nil {
		return true, err
	}
	defer closeStrategy()

	ignored, err := deletion.LoadPathList(ignFilesPath, logger)
	if err != nil {
		return true, err
	}
	keepFrom := deletion.NewPathList()
	keepFrom.AddAll(keepPaths)
	deleteFrom := deletion.NewPathList()
	deleteFrom.AddAll(cfg.PreferredDeletionDirs)
	deleteFrom.AddAll(deletePaths)

	wf := deletion.NewWorkflow(deletion.Config{
		Strategy:   strategy,
		Ignored:    ignored,
		KeepFrom:   keepFrom,
		DeleteFrom: deleteFrom,
		IO:         deletion.NewStreamIO(os.Stdout, os.Stdin),
		Progress:   reporter,
		Logger:     logger,
		Opener:     osiface.ExecDirectoryOpener{},
	})

	cont, err := wf.Run(groups)
	if err != nil {
		return cont, err
	}

	if jsonOut {
		if err := output.JSON(runSummary{
			RootsScanned:    stats.Roots,
			FilesScanned:    stats.Files,
			BytesScanned:    stats.Bytes,
			ScanErrors:      stats.Errors,
			DuplicateGroups: len(groups),
		}); err != nil {
			logger.Warn("dups.json_summary_failed", "err", err)
		}
	}

	return cont, nil
}

// runSummary is the --json payload for one scanAndResolve pass.
type runSummary struct {
	RootsScanned    int   `json:"roots_scanned"`
	FilesScanned    int64 `json:"files_scanned"`
	BytesScanned    int64 `json:"bytes_scanned"`
	ScanErrors      int64 `json:"scan_errors"`
	DuplicateGroups int   `json:"duplicate_groups"`
}

func selectStrategy(dryRun bool, backupDir string, logger *slog.Logger) (deletion.Strategy, func(), error) {
	noop := func() {}
	if dryRun {
		return deletion.DryRunStrategy{Logger: logger}, noop, nil
	}
	if backupDir != "" {
		bs, err := deletion.NewBackupStrategy(backupDir, logger)
		if err != nil {
			return nil, noop, err
		}
		return bs, func() { _ = bs.Close() }, nil
	}
	return deletion.PermanentStrategy{Logger: logger}, noop, nil
}

func writeAllFiles(detector *dupdetect.Detector, path string, reporter progress.Reporter) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dups: create %s: %w", path, err)
	}
	defer f.Close()
	return detector.EnumFiles(reporter, func(e dupdetect.DupEntry) bool {
		fmt.Fprintln(f, e.Path)
		return true
	})
}

func writeDupFiles(groups []dupdetect.DupGroup, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dups: create %s: %w", path, err)
	}
	defer f.Close()
	for _, g := range groups {
		for _, e := range g.Entries {
			fmt.Fprintln(f, e.Path)
		}
		fmt.Fprintln(f)
	}
	return nil
}

func humanizeBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
