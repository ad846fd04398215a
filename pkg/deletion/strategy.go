// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package deletion implements the interactive duplicate-resolution
// workflow: partitioning a group into auto-deletable and selective
// entries, the keep-path/filename-heuristic auto-resolvers, the
// fallback menu-driven prompt, and the three delete strategies,
// grounded on original_source/src/duplicates/{DeletionStrategy,Menu,
// DuplicateDeletion}.cpp.
package deletion

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Strategy removes one file by whatever policy a concrete type
// implements. Mirrors IDeletionStrategy::remove.
type Strategy interface {
	Apply(path string) error
}

// PermanentStrategy unlinks the file outright.
type PermanentStrategy struct {
	Logger *slog.Logger
}

func (s PermanentStrategy) Apply(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deletion: remove %s: %w", path, err)
	}
	s.logger().Info("deletion.removed", "path", path)
	return nil
}

func (s PermanentStrategy) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// DryRunStrategy logs what would happen without touching the filesystem.
type DryRunStrategy struct {
	Logger *slog.Logger
}

func (s DryRunStrategy) Apply(path string) error {
	s.logger().Info("deletion.would_delete", "path", path)
	return nil
}

func (s DryRunStrategy) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// BackupStrategy moves the file into BackupDir/<md5(parent-dir)>/<name>
// instead of deleting it, appending an "orig|backup" line to a
// per-process journal file created lazily on the first move. The
// journal name is stamped once, at construction, matching the
// reference's one-journal-per-run behavior (it does not roll over
// mid-run even if the run spans midnight).
type BackupStrategy struct {
	BackupDir string
	Logger    *slog.Logger

	mu          sync.Mutex
	journalPath string
	journal     *os.File
}

// NewBackupStrategy creates backupDir if needed and fixes the journal
// file name from the current time, mirroring BackupAndDelete's
// constructor.
func NewBackupStrategy(backupDir string, logger *slog.Logger) (*BackupStrategy, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("deletion: create backup dir %s: %w", backupDir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	name := fmt.Sprintf("deleted_files_%s_%s.log", now.Format("20060102"), now.Format("150405"))
	return &BackupStrategy{
		BackupDir:   backupDir,
		Logger:      logger,
		journalPath: filepath.Join(backupDir, name),
	}, nil
}

// JournalFile returns the path the move journal is (or will be)
// written to.
func (s *BackupStrategy) JournalFile() string { return s.journalPath }

func (s *BackupStrategy) journalWriter() (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal != nil {
		return s.journal, nil
	}
	f, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("deletion: open journal %s: %w", s.journalPath, err)
	}
	s.journal = f
	return f, nil
}

func (s *BackupStrategy) Apply(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("deletion: resolve %s: %w", path, err)
	}
	parent := filepath.Dir(abs)
	sum := md5.Sum([]byte(parent))
	bucket := hex.EncodeToString(sum[:])
	destDir := filepath.Join(s.BackupDir, bucket)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("deletion: create bucket dir %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(abs))

	w, err := s.journalWriter()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s|%s\n", abs, dest); err != nil {
		return fmt.Errorf("deletion: write journal: %w", err)
	}

	if err := os.Rename(abs, dest); err != nil {
		return fmt.Errorf("deletion: move %s to %s: %w", abs, dest, err)
	}
	s.Logger.Info("deletion.moved", "from", abs, "to", dest)
	return nil
}

// Close releases the journal file handle, if one was opened.
func (s *BackupStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}
