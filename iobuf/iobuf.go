// SPDX-License-Identifier: GPL-3.0-or-later

// Package iobuf provides a refcounted byte buffer with a read cursor, used
// by the send queue and the flow writer so that a single allocation can be
// shared between a transport's send queue and whatever the flow does with
// the partially-written tail of it.
package iobuf

import (
	"sync/atomic"

	"github.com/bassosimone/runtimex"
)

// Buffer is a refcounted byte slice with a read cursor.
//
// Invariant: 0 <= readPos <= len(bytes). Buffer is shared by the send queue
// and the flow writer; all holders share ownership, and the backing array
// is only reclaimable once every holder has called [Buffer.Release].
//
// The zero value is not usable; construct with [New] or [Wrap].
type Buffer struct {
	bytes   []byte
	readPos int
	refs    atomic.Int32
}

// New allocates a Buffer by copying data, with an initial refcount of 1.
func New(data []byte) *Buffer {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Wrap(cp)
}

// Wrap takes ownership of data (no copy) and returns a Buffer with an
// initial refcount of 1.
func Wrap(data []byte) *Buffer {
	b := &Buffer{bytes: data}
	b.refs.Store(1)
	return b
}

// Retain increments the refcount and returns the same Buffer, so callers can
// write:
//
//	queued := buf.Retain()
func (b *Buffer) Retain() *Buffer {
	n := b.refs.Add(1)
	runtimex.Assert(n > 1)
	return b
}

// Release decrements the refcount. The backing array becomes eligible for
// garbage collection once the last holder releases it; Release is therefore
// safe to call more than once only from the same logical holder that called
// Retain, never as a replacement for tracking ownership.
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	runtimex.Assert(n >= 0)
	if n == 0 {
		b.bytes = nil
	}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.bytes) - b.readPos
}

// Cap returns the total size of the backing array, read or not.
func (b *Buffer) Cap() int {
	return len(b.bytes)
}

// Bytes returns the unread tail of the buffer. The returned slice aliases
// the Buffer's storage and is only valid until the next Advance or Release.
func (b *Buffer) Bytes() []byte {
	return b.bytes[b.readPos:]
}

// Advance moves the read cursor forward by n bytes, as happens after a
// partial write succeeds. It panics if n would move the cursor past the
// end of the buffer, which indicates a flow bug.
func (b *Buffer) Advance(n int) {
	runtimex.Assert(n >= 0 && b.readPos+n <= len(b.bytes))
	b.readPos += n
}

// Empty reports whether every byte has been read (or the buffer held none
// to begin with).
func (b *Buffer) Empty() bool {
	return b.readPos >= len(b.bytes)
}
