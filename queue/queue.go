// SPDX-License-Identifier: GPL-3.0-or-later

// Package queue provides producer/consumer queue primitives for
// cross-goroutine hand-off. Inside this module, [MPSCQueue] carries the
// timer queue's pending adds; the poller mailboxes and the per-transport
// send queue use their own mutex-guarded slices.
//
// Go already has a wait-free MPMC primitive in the language: a buffered
// channel. Where the original implementation hand-rolls a ring buffer with
// atomics (MPMCQueue) this package wraps a channel instead, matching the
// idiom the rest of this module uses for cross-goroutine communication; the
// sections that genuinely need a plain slice under a lock (because the
// consumer must drain an unbounded batch in one critical section, not pop
// one at a time) use [MPSCQueue] instead.
package queue

import "sync"

// MPSCQueue is a multi-producer, single-consumer unbounded queue.
//
// Push is safe to call from any number of goroutines. Drain is intended to
// be called by a single consumer goroutine at a time (in this module, the
// timer queue's observer); calling it concurrently from multiple goroutines
// is safe but does not provide any additional ordering guarantee across the
// concurrent calls.
type MPSCQueue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push appends an item to the tail of the queue.
func (q *MPSCQueue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Pop removes and returns the item at the head of the queue, if any.
func (q *MPSCQueue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	q.items[0] = *new(T)
	q.items = q.items[1:]
	return item, true
}

// Drain removes and returns up to max items from the head of the queue (all
// of them, if max <= 0). max lets a consumer loop bound how much queued
// work it takes per iteration, to preserve fairness with its other work.
func (q *MPSCQueue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	copy(out, q.items[:n])
	remaining := len(q.items) - n
	if remaining > 0 {
		copy(q.items, q.items[n:])
	}
	q.items = q.items[:remaining]
	return out
}

// Len returns the current queue length. Racy by construction; intended for
// diagnostics and backpressure heuristics, not exact accounting.
func (q *MPSCQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// BlockingQueue is an MPMC queue with a blocking Pop, implemented as a thin
// wrapper over a buffered channel, for a consumer goroutine that should
// park (not spin) waiting for work.
type BlockingQueue[T any] struct {
	ch chan T
}

// NewBlockingQueue returns a BlockingQueue with the given buffer capacity.
func NewBlockingQueue[T any](capacity int) *BlockingQueue[T] {
	return &BlockingQueue[T]{ch: make(chan T, capacity)}
}

// Push enqueues an item, blocking only if the queue is full.
func (q *BlockingQueue[T]) Push(item T) {
	q.ch <- item
}

// TryPush attempts to enqueue an item without blocking.
func (q *BlockingQueue[T]) TryPush(item T) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Pop blocks until an item is available or ctxDone fires, returning ok=false
// in the latter case.
func (q *BlockingQueue[T]) Pop(ctxDone <-chan struct{}) (item T, ok bool) {
	select {
	case item = <-q.ch:
		return item, true
	case <-ctxDone:
		return item, false
	}
}
