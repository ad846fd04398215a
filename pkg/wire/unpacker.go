// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import "encoding/binary"

// Status reports how much of the current frame the Unpacker can deliver.
type Status int

const (
	// NeedMore means the next Get call would return zero bytes: either the
	// 8-byte size header hasn't fully arrived, or the buffered payload
	// bytes are exhausted.
	NeedMore Status = iota
	// HasMore means at least one payload byte is available but the frame
	// is not yet complete.
	HasMore
	// Ready means the entire frame (header-declared size reached) has
	// been delivered to the caller via Get.
	Ready
)

const headerSize = 8

// Unpacker reassembles one streamed frame (or a back-to-back sequence of
// frames fed through the same buffer) from arbitrarily-chunked Put calls.
// It is not safe for concurrent use.
type Unpacker struct {
	buf    []byte
	off    int
	rem    uint64 // payload bytes of the current frame not yet delivered
	size   uint64 // declared size of the current frame
	status Status
}

// NewUnpacker returns an empty Unpacker awaiting its first bytes.
func NewUnpacker() *Unpacker {
	return &Unpacker{status: NeedMore}
}

// Put appends freshly-received bytes to the internal buffer. It is the
// caller's job to feed raw socket reads here in arrival order.
func (u *Unpacker) Put(b []byte) {
	if len(b) == 0 {
		return
	}
	u.buf = append(u.buf, b...)
	u.readSize()
	if u.rem > 0 && len(u.buf)-u.off > 0 {
		u.status = HasMore
	} else {
		u.status = NeedMore
	}
}

// Size returns the declared byte length of the frame currently being
// assembled. It is only meaningful once the header has been parsed —
// check Status first if that matters to the caller.
func (u *Unpacker) Size() uint64 { return u.size }

// Status returns the status left by the most recent Get or Put call.
func (u *Unpacker) Status() Status { return u.status }

// Get appends up to maxSize bytes of the current frame's payload to buf
// and returns the extended slice, the number of bytes appended, and the
// resulting status. Once Ready is returned, the Unpacker is positioned to
// start assembling the next frame (if any bytes for it are already
// buffered) on the following Get/Put call.
func (u *Unpacker) Get(buf []byte, maxSize int) ([]byte, int, Status) {
	u.status = NeedMore

	available := len(u.buf) - u.off
	n := int(u.rem)
	if maxSize < n {
		n = maxSize
	}
	if available < n {
		n = available
	}
	if n <= 0 {
		return buf, 0, u.status
	}

	buf = append(buf, u.buf[u.off:u.off+n]...)
	u.off += n
	u.rem -= uint64(n)
	u.status = HasMore

	if u.rem == 0 {
		u.compact()
		u.status = Ready
	} else if u.off > maxSize {
		u.compact()
	}

	u.readSize()
	return buf, n, u.status
}

// compact drops the bytes already delivered to the caller, keeping only
// the unread tail. Called whenever a frame completes or the consumed
// prefix grows past the caller's chunk size, so the buffer never grows
// unbounded across a long streaming session.
func (u *Unpacker) compact() {
	u.buf = u.buf[u.off:]
	u.off = 0
}

// readSize parses the next frame's 8-byte little-endian length prefix
// once enough bytes are buffered, advancing off past the header. It is a
// no-op unless the previous frame fully drained (rem == 0), which is also
// exactly when off == 0 thanks to compact().
func (u *Unpacker) readSize() {
	if u.rem != 0 {
		return
	}
	if len(u.buf)-u.off < headerSize {
		return
	}
	u.size = binary.LittleEndian.Uint64(u.buf[u.off : u.off+headerSize])
	u.off += headerSize
	u.rem = u.size
}
