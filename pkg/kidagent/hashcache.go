// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kidagent implements the capture-and-report loop that watches
// the local foreground window and streams Entry snapshots to a kidserver
// instance, grounded on the reference KidmonAgent::Impl.
package kidagent

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sync"
	"time"
)

type cachedHash struct {
	modTime time.Time
	hash    string
}

// CachedFileSha256 memoizes a file's sha256 keyed by (path, mtime): a
// process binary rarely changes between two probe ticks, so this avoids
// rehashing it every capture. A changed mtime invalidates the entry.
type CachedFileSha256 struct {
	mu    sync.Mutex
	cache map[string]cachedHash
}

// NewCachedFileSha256 builds an empty cache.
func NewCachedFileSha256() *CachedFileSha256 {
	return &CachedFileSha256{cache: make(map[string]cachedHash)}
}

// Sha256 returns the hex-encoded sha256 of the file at path, recomputing
// only when the file's mtime has moved since the last call.
func (c *CachedFileSha256) Sha256(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	mtime := info.ModTime()

	c.mu.Lock()
	if entry, ok := c.cache[path]; ok && entry.modTime.Equal(mtime) {
		c.mu.Unlock()
		return entry.hash, nil
	}
	c.mu.Unlock()

	hash, err := hashFile(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[path] = cachedHash{modTime: mtime, hash: hash}
	c.mu.Unlock()
	return hash, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 4096)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
