// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingPathIsNotAnError(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Empty(t, cfg.ScanDirectories)
}

func TestLoadConfigDecodesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dups.toml")
	contents := `
scan_directories = ["/home/me/Downloads"]
exclusion_patterns = [".*\\.tmp$"]
min_file_size_bytes = 1024
dry_run = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{"/home/me/Downloads"}, cfg.ScanDirectories)
	require.Equal(t, uint64(1024), cfg.MinFileSizeBytes)
	require.True(t, cfg.DryRun)
}

func TestLoadConfigRejectsMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestRebaseOutputPathLeavesAbsoluteUntouched(t *testing.T) {
	got, err := rebaseOutputPath("/tmp/all.txt")
	require.NoError(t, err)
	require.Equal(t, "/tmp/all.txt", got)
}

func TestRebaseOutputPathLeavesEmptyUntouched(t *testing.T) {
	got, err := rebaseOutputPath("")
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestRebaseOutputPathJoinsRelativeUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KIDMON_DATA_DIR", dir)

	got, err := rebaseOutputPath("all.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "all.txt"), got)
}

func TestCompileExcludesRejectsInvalidPattern(t *testing.T) {
	_, err := compileExcludes([]string{"("})
	require.Error(t, err)
}

func TestCompileExcludesCompilesValidPatterns(t *testing.T) {
	res, err := compileExcludes([]string{`\.tmp$`, `^/proc/`})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.True(t, res[0].MatchString("foo.tmp"))
}
