// SPDX-License-Identifier: GPL-3.0-or-later

// Package timer provides the timer wheel used for connect timeouts and
// scheduled callbacks (spec §4.6).
//
// A single observer goroutine maintains a min-heap keyed by deadline. Adding
// a timer pushes onto a [queue.MPSCQueue] that the observer drains on every
// wake-up. That queue is a slice guarded by a mutex, so an add takes a short
// lock and is not lock-free, unlike the original implementation's
// timer_queue (time/timer_queue.h), which feeds a std::priority_queue on one
// observer thread from a lock-free producer queue.
package timer

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netreactor/pump/queue"
)

// Timer is a single scheduled callback.
//
// A Timer is owned by the [Queue] while pending; its Callback executes on
// the Queue's observer goroutine and must not block, matching spec §3's
// data model ("callbacks execute on the queue's observer thread and must
// not block").
type Timer struct {
	deadline time.Time
	interval time.Duration // 0 for a one-shot timer
	callback func()

	cancelled atomic.Bool
	queue     *Queue
	mu        sync.Mutex
}

// Cancel marks the timer as cancelled. Cancellation is advisory (spec §4.6):
// a cancelled timer stays in the heap and is filtered out when it would
// otherwise fire, which avoids the random-access removal a true heap-delete
// would require.
func (t *Timer) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *Timer) Cancelled() bool {
	return t.cancelled.Load()
}

// heapItem is the entry stored in the priority queue; kept separate from
// Timer so re-arming a repeating timer can push a fresh item without
// mutating one still referenced by heap internals mid-fixup.
type heapItem struct {
	deadline time.Time
	timer    *Timer
	index    int
}

type timerHeap []*heapItem

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the timer wheel: a single observer goroutine draining a
// mutex-guarded add queue into a min-heap and firing due timers in non-decreasing deadline
// order.
type Queue struct {
	pending  queue.MPSCQueue[*heapItem]
	wake     chan struct{}
	started  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
	now      func() time.Time

	mu   sync.Mutex
	heap timerHeap
}

// NewQueue returns a stopped [*Queue]. now defaults to [time.Now] when nil,
// overridable for deterministic tests.
func NewQueue(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		now:  now,
	}
}

// Start launches the observer goroutine. Idempotent: calling Start twice is
// a no-op on the second call.
func (q *Queue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	go q.observe()
}

// Stop signals the observer goroutine to exit after its current wait. Call
// [Queue.WaitStopped] to join it.
func (q *Queue) Stop() {
	q.stopping.Store(true)
	q.notify()
}

// WaitStopped blocks until the observer goroutine has exited.
func (q *Queue) WaitStopped() {
	if !q.started.Load() {
		return
	}
	<-q.done
}

// AddTimer schedules callback to run once at now+after. It returns the
// [*Timer] handle, which can be cancelled before it fires.
func (q *Queue) AddTimer(after time.Duration, callback func()) *Timer {
	return q.addTimer(q.now().Add(after), 0, callback)
}

// AddRepeatingTimer schedules callback to run every interval, starting
// after the first interval elapses.
func (q *Queue) AddRepeatingTimer(interval time.Duration, callback func()) *Timer {
	return q.addTimer(q.now().Add(interval), interval, callback)
}

func (q *Queue) addTimer(deadline time.Time, interval time.Duration, callback func()) *Timer {
	t := &Timer{deadline: deadline, interval: interval, callback: callback, queue: q}
	q.pending.Push(&heapItem{deadline: deadline, timer: t})
	q.notify()
	return t
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// observe is the single observer loop: drain pending adds, fire due timers,
// sleep until the next deadline or the next wake signal.
func (q *Queue) observe() {
	defer close(q.done)
	for {
		if q.stopping.Load() {
			return
		}
		q.drainPending()
		next, hasNext := q.fireDue()
		if q.stopping.Load() {
			return
		}
		if !hasNext {
			<-q.wake
			continue
		}
		d := next.Sub(q.now())
		if d <= 0 {
			continue
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-q.wake:
			timer.Stop()
		}
	}
}

func (q *Queue) drainPending() {
	items := q.pending.Drain(0)
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range items {
		heap.Push(&q.heap, item)
	}
}

// fireDue pops and runs every timer whose deadline has passed, then reports
// the next pending deadline (if any).
func (q *Queue) fireDue() (next time.Time, ok bool) {
	now := q.now()
	for {
		q.mu.Lock()
		if q.heap.Len() == 0 {
			q.mu.Unlock()
			return time.Time{}, false
		}
		top := q.heap[0]
		if top.deadline.After(now) {
			next = top.deadline
			q.mu.Unlock()
			return next, true
		}
		heap.Pop(&q.heap)
		q.mu.Unlock()

		t := top.timer
		if t.Cancelled() {
			continue
		}
		t.callback()
		if t.interval > 0 && !t.Cancelled() {
			t.deadline = t.deadline.Add(t.interval)
			if !t.deadline.After(now) {
				t.deadline = now.Add(t.interval)
			}
			q.mu.Lock()
			heap.Push(&q.heap, &heapItem{deadline: t.deadline, timer: t})
			q.mu.Unlock()
		}
	}
}

// Len reports the number of timers currently tracked (pending + heap),
// racy by construction; intended for tests and diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := q.heap.Len()
	q.mu.Unlock()
	return n + q.pending.Len()
}
