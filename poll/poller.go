// SPDX-License-Identifier: GPL-3.0-or-later

package poll

import (
	"log/slog"
	"sync"
	"time"

	pump "github.com/netreactor/pump"
)

// Poller owns one or more worker goroutines that dispatch OS I/O events to
// channels and drain two mailboxes: tracker-control requests and posted
// channel events (spec §4.1).
type Poller interface {
	// Start launches the poller's worker goroutine(s). A second call is not
	// detected: it launches another set of worker goroutines and returns nil.
	Start() error

	// Stop signals loop exit. Pending trackers are released. Call
	// [Poller.WaitStopped] to join the worker goroutines.
	Stop()

	// WaitStopped blocks until every worker goroutine has exited.
	WaitStopped()

	// AddTracker enqueues an add request, returning false if the poller is
	// stopped or the tracker is already tracked. The tracker becomes
	// effective before the poller's next dispatch.
	AddTracker(t *Tracker) bool

	// RemoveTracker enqueues a remove request.
	RemoveTracker(t *Tracker)

	// PauseTracker synchronously disarms t: once this returns, no further
	// event for t's fd is dispatched until [Poller.ResumeTracker].
	PauseTracker(t *Tracker)

	// ResumeTracker re-arms t for one-shot mode.
	ResumeTracker(t *Tracker)

	// PostChannelEvent enqueues an arbitrary event for delivery to ch on a
	// poller goroutine.
	PostChannelEvent(ch Channel, event EventCode)
}

// controlOp is a request to mutate the OS interest set for a tracker,
// applied by the poller loop itself so no two goroutines ever touch the OS
// multiplex object concurrently.
type controlKind int

const (
	controlAdd controlKind = iota
	controlRemove
	controlPause
	controlResume
)

type controlRequest struct {
	kind    controlKind
	tracker *Tracker
}

type channelEvent struct {
	channel Channel
	event   EventCode
}

// core holds the state shared by every [Poller] implementation: the two
// mailboxes, the tracker table, and common bookkeeping. Readiness and
// completion pollers embed it and supply their own dispatch loop.
type core struct {
	identity pollerIdentity
	logger   pump.SLogger
	timeout  time.Duration

	mu       sync.RWMutex
	trackers map[uint64]*Tracker

	controlMailbox mailbox[controlRequest]
	eventMailbox   mailbox[channelEvent]

	stopped chan struct{}
}

// mailbox is a tiny synchronized slice, used for the two bounded-per-loop
// drains spec §4.1 requires.
type mailbox[T any] struct {
	mu    sync.Mutex
	items []T
}

func (m *mailbox[T]) push(item T) {
	m.mu.Lock()
	m.items = append(m.items, item)
	m.mu.Unlock()
}

func (m *mailbox[T]) drain(max int) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil
	}
	n := len(m.items)
	if max > 0 && max < n {
		n = max
	}
	out := append([]T(nil), m.items[:n]...)
	m.items = append(m.items[:0], m.items[n:]...)
	return out
}

func newCore(name string, logger pump.SLogger, timeout time.Duration) *core {
	if logger == nil {
		logger = pump.DefaultSLogger()
	}
	return &core{
		identity: pollerIdentity{name: name},
		logger:   logger,
		timeout:  timeout,
		trackers: make(map[uint64]*Tracker),
		stopped:  make(chan struct{}),
	}
}

// trackerByFD returns the tracked tracker registered for fd, scanning the
// tracker table under the read lock.
func (c *core) trackerByFD(fd int) (*Tracker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.trackers {
		if t.FD() == fd {
			return t, true
		}
	}
	return nil, false
}

func (c *core) trackerByID(id uint64) (*Tracker, bool) {
	c.mu.RLock()
	t, ok := c.trackers[id]
	c.mu.RUnlock()
	return t, ok
}

func (c *core) insertTracker(t *Tracker) {
	c.mu.Lock()
	c.trackers[t.id] = t
	c.mu.Unlock()
}

func (c *core) deleteTracker(t *Tracker) {
	c.mu.Lock()
	delete(c.trackers, t.id)
	c.mu.Unlock()
}

// drainControlMailbox applies add/remove/resume requests via apply, which
// is supplied by the concrete poller (it knows how to talk to epoll/kqueue
// or the completion submission path). Returns the number of requests
// drained, used by the caller to decide whether to poll with a zero
// timeout this iteration (spec §4.1 step 3).
func (c *core) drainControlMailbox(apply func(controlRequest)) int {
	reqs := c.controlMailbox.drain(0)
	for _, r := range reqs {
		apply(r)
	}
	return len(reqs)
}

// drainEventMailbox delivers up to maxPerIteration posted channel events,
// preserving fairness with I/O dispatch (spec §4.1 step 1).
func (c *core) drainEventMailbox(maxPerIteration int) int {
	events := c.eventMailbox.drain(maxPerIteration)
	for _, e := range events {
		dispatchPostedEvent(e)
	}
	return len(events)
}

func dispatchPostedEvent(e channelEvent) {
	switch e.event {
	case EventRead:
		e.channel.OnReadEvent()
	case EventSend:
		e.channel.OnSendEvent()
	case EventError:
		e.channel.OnErrorEvent(nil)
	default:
		// User-defined event codes (>= EventUser) have no generic
		// dispatch target; channels that care about them implement a
		// richer interface and type-assert for it.
		if custom, ok := e.channel.(interface{ OnUserEvent(EventCode) }); ok {
			custom.OnUserEvent(e.event)
		}
	}
}

func (c *core) logDebug(msg string, args ...any) {
	c.logger.Debug(msg, append([]any{slog.String("poller", c.identity.name)}, args...)...)
}

func (c *core) logInfo(msg string, args ...any) {
	c.logger.Info(msg, append([]any{slog.String("poller", c.identity.name)}, args...)...)
}
