// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync"
	"sync/atomic"

	"github.com/netreactor/pump/iobuf"
)

// sendQueue implements the send arbitration algorithm that is "the heart
// of the TCP transport" (spec §4.3): an MPSC ordered queue of buffers,
// a last_buffer slot for a partially-written buffer, and a
// next_send_chance exclusive flag such that exactly one goroutine at a
// time ever drains the queue.
//
// Invariant (at-most-one-writer): exactly one goroutine at a time holds
// nextSendChance for a given transport. There is never a queued buffer
// without a writer attempting to drain it — a late send() that observes
// nextSendChance == false always re-acquires and drives the queue itself.
type sendQueue struct {
	mu              sync.Mutex
	pending         []*iobuf.Buffer
	pendingBytes    atomic.Int64
	lastBuffer      *iobuf.Buffer // the writer's own scratch slot, never touched concurrently
	nextSendChance  atomic.Bool
	maxPendingBytes uint64
}

func newSendQueue(maxPendingBytes uint64) *sendQueue {
	return &sendQueue{maxPendingBytes: maxPendingBytes}
}

// pendingBytesNow reports the current number of unsent bytes across the
// queue, used for the backpressure check (spec invariant 5).
func (q *sendQueue) pendingBytesNow() uint64 {
	n := q.pendingBytes.Load()
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// tryAcquireSendChance CASes nextSendChance false->true, returning true if
// this caller became the writer.
func (q *sendQueue) tryAcquireSendChance() bool {
	return q.nextSendChance.CompareAndSwap(false, true)
}

func (q *sendQueue) releaseSendChance() {
	q.nextSendChance.Store(false)
}

// enqueue appends buf to the pending queue (step 1 of the algorithm). The
// caller has already checked backpressure.
func (q *sendQueue) enqueue(buf *iobuf.Buffer) {
	q.mu.Lock()
	q.pending = append(q.pending, buf)
	q.mu.Unlock()
	q.pendingBytes.Add(int64(buf.Len()))
}

// dequeue pops the next buffer to drain, preferring lastBuffer (a partial
// write left over from a previous AGAIN) over the head of pending.
func (q *sendQueue) dequeue() *iobuf.Buffer {
	if q.lastBuffer != nil {
		buf := q.lastBuffer
		q.lastBuffer = nil
		return buf
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	buf := q.pending[0]
	q.pending = q.pending[1:]
	return buf
}

// parkPartial installs buf as lastBuffer after a partial write (AGAIN) and
// accounts for the bytes the kernel already accepted: only the writer
// goroutine ever calls this, so it needs no locking of its own —
// lastBuffer is the writer's private scratch slot for the duration it
// holds nextSendChance. Without this accounting, pendingBytes would only
// ever be decremented at final release and would drift upward forever on
// any buffer that takes more than one write call to drain.
func (q *sendQueue) parkPartial(buf *iobuf.Buffer, sentBytes int) {
	q.pendingBytes.Add(-int64(sentBytes))
	q.lastBuffer = buf
}

// releaseBuffer accounts for fully-sent bytes and releases the buffer's
// reference.
func (q *sendQueue) releaseBuffer(buf *iobuf.Buffer, sentBytes int) {
	q.pendingBytes.Add(-int64(sentBytes))
	buf.Release()
}

func (q *sendQueue) isEmpty() bool {
	if q.lastBuffer != nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}

// discard drops every pending buffer without sending (used by
// force_stop()).
func (q *sendQueue) discard() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, buf := range pending {
		buf.Release()
	}
	if q.lastBuffer != nil {
		q.lastBuffer.Release()
		q.lastBuffer = nil
	}
	q.pendingBytes.Store(0)
}
