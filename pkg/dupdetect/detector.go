// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dupdetect turns a scanned trie.Trie into duplicate-file groups
// via a two-phase size-then-hash pipeline that minimizes hashing I/O.
package dupdetect

import (
	"log/slog"
	"sort"

	"github.com/kraklabs/kidmon/pkg/progress"
	"github.com/kraklabs/kidmon/pkg/trie"
)

// DetectorOptions bounds which files participate in grouping. Files
// outside [MinSizeBytes, MaxSizeBytes] are ignored during grouping but
// remain visible to plain tree walks (EnumFiles). MaxSizeBytes == 0 means
// unbounded.
type DetectorOptions struct {
	MinSizeBytes uint64
	MaxSizeBytes uint64
}

// DupEntry names one duplicate file by full path, size, and hex sha256.
type DupEntry struct {
	Path   string
	Size   int64
	Sha256 string
}

// DupGroup carries a numeric id and 2..N entries sharing one hash.
type DupGroup struct {
	ID      int
	Entries []DupEntry
}

// Detector groups the leaves of a trie.Trie by (size, sha256).
type Detector struct {
	trie   *trie.Trie
	opts   DetectorOptions
	logger *slog.Logger
}

// NewDetector builds a Detector over t using opts.
func NewDetector(t *trie.Trie, opts DetectorOptions, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{trie: t, opts: opts, logger: logger}
}

func (d *Detector) inRange(size int64) bool {
	if d.opts.MaxSizeBytes > 0 && uint64(size) > d.opts.MaxSizeBytes {
		return false
	}
	return uint64(size) >= d.opts.MinSizeBytes
}

// EnumFiles visits every file in the trie, not just duplicates, in
// descending-size order (tie-break by path) — the producer for the
// `--all-files` CLI output. An empty trie yields zero files, and the
// root itself is never emitted even if it is degenerately leaf-shaped.
func (d *Detector) EnumFiles(reporter progress.Reporter, cb func(DupEntry) bool) error {
	if err := d.trie.Update(reporter); err != nil {
		d.logger.Warn("detector.update_error", "err", err)
	}
	var entries []DupEntry
	d.trie.EnumLeafs(d.trie.Root(), func(id trie.NodeID) bool {
		entries = append(entries, DupEntry{Path: d.trie.FullPath(id), Size: d.trie.Size(id)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Size != entries[j].Size {
			return entries[i].Size > entries[j].Size
		}
		return entries[i].Path < entries[j].Path
	})
	for _, e := range entries {
		if !cb(e) {
			break
		}
	}
	return nil
}

// EnumGroups runs the two-phase size→hash pipeline and yields each
// DupGroup in descending-size order, tie-broken by ascending group id,
// with entries sorted by full path. cb returning false halts enumeration.
//
// Phase 1 buckets leaves in [Min,Max] by size and drops singleton buckets.
// Phase 2 hashes every leaf in a surviving bucket, buckets again by hash
// within that size, and drops singleton hash buckets — so a single
// ambiguous hash failure only removes that one file from consideration,
// never the whole group.
func (d *Detector) EnumGroups(reporter progress.Reporter, cb func(DupGroup) bool) error {
	if reporter == nil {
		reporter = progress.Noop
	}
	if err := d.trie.Update(reporter); err != nil {
		d.logger.Warn("detector.update_error", "err", err)
	}

	bySize := make(map[int64][]trie.NodeID)
	d.trie.EnumLeafs(d.trie.Root(), func(id trie.NodeID) bool {
		size := d.trie.Size(id)
		if d.inRange(size) {
			bySize[size] = append(bySize[size], id)
		}
		return true
	})
	for size, ids := range bySize {
		if len(ids) < 2 {
			delete(bySize, size)
		}
	}

	var totalBytes int64
	for size, ids := range bySize {
		totalBytes += size * int64(len(ids))
	}

	sizes := make([]int64, 0, len(bySize))
	for size := range bySize {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })

	var hashedBytes int64
	nextID := 1
	for _, size := range sizes {
		byHash := make(map[string][]trie.NodeID)
		for _, id := range bySize[size] {
			hash, err := d.trie.Sha256(id)
			if err != nil {
				d.logger.Warn("detector.hash_failed", "path", d.trie.FullPath(id), "err", err)
				continue
			}
			byHash[hash] = append(byHash[hash], id)
			hashedBytes += size
			reporter.Report(hashedBytes, totalBytes, progress.PhaseHash)
		}

		hashes := make([]string, 0, len(byHash))
		for h, members := range byHash {
			if len(members) >= 2 {
				hashes = append(hashes, h)
			}
		}
		sort.Strings(hashes)

		for _, h := range hashes {
			members := byHash[h]
			entries := make([]DupEntry, 0, len(members))
			for _, id := range members {
				entries = append(entries, DupEntry{Path: d.trie.FullPath(id), Size: size, Sha256: h})
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

			group := DupGroup{ID: nextID, Entries: entries}
			nextID++
			if !cb(group) {
				return nil
			}
		}
	}
	return nil
}
