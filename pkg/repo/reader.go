// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package repo

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/kraklabs/kidmon/pkg/wire"
)

// ReadRawLog reads a raw-<DOY>-<MMDD>.dat file written by
// FileSystemRepository and returns every successfully-decoded Entry.
// Blank lines are skipped; a trailing line left incomplete by a writer
// that was killed mid-append is skipped rather than treated as an error.
func ReadRawLog(path string) ([]wire.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []wire.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e wire.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue // partial/corrupt trailing line: skip, don't fail the read
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
