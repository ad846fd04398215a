// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package wire implements the length-prefixed frame codec that every
// message on the agent<->server socket rides on top of: an 8-byte
// little-endian size prefix followed by exactly that many payload bytes.
package wire

import "encoding/binary"

// DefaultChunk is the default maxSize used by Get/Packer.Get when the
// caller does not need a smaller chunk (mirrors the original's
// `maxSize = 64 * 1024` default).
const DefaultChunk = 64 * 1024

// Packer streams a single outgoing message: an 8-byte little-endian
// length prefix followed by the payload. It is single-use — once the
// payload is exhausted, Get always returns 0.
type Packer struct {
	payload    []byte
	header     [8]byte
	headerLeft bool // true until the header has been written once
	pos        int
}

// NewPacker wraps payload for streaming. The header encodes len(payload).
func NewPacker(payload []byte) *Packer {
	p := &Packer{payload: payload, headerLeft: true}
	binary.LittleEndian.PutUint64(p.header[:], uint64(len(payload)))
	return p
}

// Get appends up to maxSize bytes of PAYLOAD to buf and returns the
// extended slice plus the number of payload bytes appended this call. The
// 8-byte length header, when due, is written in full on the first call
// regardless of maxSize — it precedes the payload in buf but is not
// counted in the returned byte count, matching the reference Packer's
// get() contract (it returns what the underlying source produced, not
// what the header added).
func (p *Packer) Get(buf []byte, maxSize int) ([]byte, int) {
	if p.headerLeft {
		buf = append(buf, p.header[:]...)
		p.headerLeft = false
	}
	if maxSize <= 0 || p.pos >= len(p.payload) {
		return buf, 0
	}
	end := p.pos + maxSize
	if end > len(p.payload) {
		end = len(p.payload)
	}
	buf = append(buf, p.payload[p.pos:end]...)
	n := end - p.pos
	p.pos = end
	return buf, n
}

// Pack drains the packer in one shot using DefaultChunk-sized reads and
// returns the full framed message (header + payload).
func Pack(payload []byte) []byte {
	p := NewPacker(payload)
	buf := make([]byte, 0, 8+len(payload))
	for {
		var n int
		buf, n = p.Get(buf, DefaultChunk)
		if n == 0 {
			break
		}
	}
	return buf
}
