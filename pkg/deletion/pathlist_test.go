// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package deletion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathListAddContains(t *testing.T) {
	l := NewPathList()
	require.True(t, l.Empty())
	l.Add("/a/b")
	require.True(t, l.Contains("/a/b"))
	require.False(t, l.Contains("/a/c"))
	require.Equal(t, 1, l.Len())
}

func TestPathListContainsSubstring(t *testing.T) {
	l := NewPathList()
	l.Add("keep")
	require.True(t, l.ContainsSubstring("/home/user/keep/photos"))
	require.False(t, l.ContainsSubstring("/home/user/other/photos"))
}

func TestPathListSaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ignored.txt")

	l, err := LoadPathList(path, nil)
	require.NoError(t, err)
	require.True(t, l.Empty())

	l.AddAll([]string{"/a/1", "/a/2"})
	require.NoError(t, l.Save())

	reloaded, err := LoadPathList(path, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"/a/1", "/a/2"}, reloaded.Paths())
}

func TestLoadPathListMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	l, err := LoadPathList(filepath.Join(dir, "nope.txt"), nil)
	require.NoError(t, err)
	require.True(t, l.Empty())
}

func TestPathListRemove(t *testing.T) {
	l := NewPathList()
	l.Add("/a/b")
	l.Remove("/a/b")
	require.False(t, l.Contains("/a/b"))
}

func TestPathListSaveSkipsWithoutBackingFile(t *testing.T) {
	l := NewPathList()
	l.Add("/a/b")
	require.NoError(t, l.Save())
}

func TestPathListSaveIgnoresBlankLinesOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("/a\n\n/b\n"), 0o644))

	l, err := LoadPathList(path, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"/a", "/b"}, l.Paths())
}
