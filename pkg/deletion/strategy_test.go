// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package deletion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermanentStrategyRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, PermanentStrategy{}.Apply(path))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestDryRunStrategyLeavesFileInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, DryRunStrategy{}.Apply(path))
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestBackupStrategyMovesFileAndJournals(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "photos")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	src := filepath.Join(srcDir, "a.jpg")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	backupDir := filepath.Join(root, "backup")
	strat, err := NewBackupStrategy(backupDir, nil)
	require.NoError(t, err)
	defer strat.Close()

	require.NoError(t, strat.Apply(src))

	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err))

	journal, err := os.ReadFile(strat.JournalFile())
	require.NoError(t, err)
	require.Contains(t, string(journal), src)
	require.Contains(t, string(journal), "a.jpg")

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 2) // the bucket dir plus the journal file
}

func TestBackupStrategySkipsMissingFile(t *testing.T) {
	root := t.TempDir()
	strat, err := NewBackupStrategy(filepath.Join(root, "backup"), nil)
	require.NoError(t, err)
	defer strat.Close()

	require.NoError(t, strat.Apply(filepath.Join(root, "does-not-exist")))
}
