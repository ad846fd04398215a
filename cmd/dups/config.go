// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/kraklabs/kidmon/internal/errors"
)

// Config mirrors the TOML schema. Unknown keys are ignored by toml.Decode
// by default, matching the tolerant-parsing note.
type Config struct {
	ScanDirectories       []string `toml:"scan_directories"`
	ExclusionPatterns     []string `toml:"exclusion_patterns"`
	PreferredDeletionDirs []string `toml:"preferred_deletion_dirs"`
	MinFileSizeBytes      uint64   `toml:"min_file_size_bytes"`
	MaxFileSizeBytes      uint64   `toml:"max_file_size_bytes"`
	UpdateFreqMs          uint64   `toml:"update_freq_ms"`
	AllFiles              string   `toml:"all_files"`
	DupFiles              string   `toml:"dup_files"`
	IgnFiles              string   `toml:"ign_files"`
	DryRun                bool     `toml:"dry_run"`
}

// LoadConfig reads and decodes a TOML config file. A missing path is not
// an error — the caller may be relying entirely on CLI flags.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.NewConfigError(
			"Cannot parse configuration file",
			fmt.Sprintf("Failed to decode TOML at %s", path),
			"Check the file for syntax errors against the documented schema.",
			err,
		)
	}
	return cfg, nil
}

// appDataDir returns the platform application-data directory used to
// rebase relative output paths: an env override first, then a
// well-known per-platform default.
func appDataDir() (string, error) {
	if dir := os.Getenv("KIDMON_DATA_DIR"); dir != "" {
		return filepath.Abs(dir)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", errors.NewInternalError(
				"Cannot determine application data directory",
				"Operating system provided neither a config dir nor a home dir",
				"Set KIDMON_DATA_DIR to an explicit path.",
				err,
			)
		}
		base = home
	}
	return filepath.Join(base, "kidmon"), nil
}

// rebaseOutputPath leaves absolute paths untouched and joins relative
// ones under the application data directory.
func rebaseOutputPath(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return rel, nil
	}
	dir, err := appDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, rel), nil
}

func compileExcludes(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.NewConfigError(
				"Invalid exclusion pattern",
				fmt.Sprintf("Pattern %q does not compile as a regular expression", p),
				"Fix the pattern in the config file or --exclude flag.",
				err,
			)
		}
		out = append(out, re)
	}
	return out, nil
}
