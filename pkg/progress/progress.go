// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package progress defines the shared progress-reporting primitive used by
// the scanner, the path trie's update pass, and the duplicate detector's
// hashing phase, generalized from a single (current, total) pair to also
// carry which phase is reporting, since this engine has three distinct
// phases (scan, stat, hash) that can each want their own bar.
package progress

// Reporter receives progress ticks. current and total are in whatever unit
// the phase uses (files for scan/stat, bytes for hash, weighted by size
// during hashing).
type Reporter interface {
	Report(current, total int64, phase string)
}

// Func adapts a plain function to Reporter. A nil Func is a valid no-op.
type Func func(current, total int64, phase string)

// Report implements Reporter.
func (f Func) Report(current, total int64, phase string) {
	if f != nil {
		f(current, total, phase)
	}
}

// Noop discards every report.
var Noop Reporter = Func(nil)

// Phases used across the engine.
const (
	PhaseScan = "scan"
	PhaseStat = "stat"
	PhaseHash = "hash"
)
