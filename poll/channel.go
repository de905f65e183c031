// SPDX-License-Identifier: GPL-3.0-or-later

// Package poll implements the polling substrate (spec §4.1): it multiplexes
// readiness or completion events from many file descriptors onto a small
// pool of worker goroutines and dispatches them to [Channel] implementations
// through a [Tracker].
//
// Two dispatch disciplines are provided behind the common [Poller]
// interface, matching the original implementation's poll/poller.cpp split
// between a readiness-notification poller (epoll/kqueue) and an
// IOCP-style completion poller:
//
//   - [NewReadinessPoller]: edge-triggered readiness, reads/writes happen on
//     the poller goroutine inside the channel's callback.
//   - [NewCompletionPoller]: each read/write is submitted as an asynchronous
//     task; a worker pool performs the I/O and dispatches the completion
//     (byte count + status) back to the channel.
package poll

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// EventCode identifies a dispatched event. The three builtin codes mirror
// spec §4.1 step 4; values >= [EventUser] are reserved for
// [Poller.PostChannelEvent] (spec's transport_event, e.g. "sent").
type EventCode uint32

const (
	// EventRead signals read readiness (readiness poller) or a completed
	// read (completion poller).
	EventRead EventCode = iota
	// EventSend signals write readiness (readiness poller) or a completed
	// write (completion poller).
	EventSend
	// EventError signals a fatal error on the channel's fd.
	EventError
	// EventUser is the first value available to [Poller.PostChannelEvent].
	EventUser EventCode = 1 << 16
)

// Channel is the abstract endpoint attached to one fd that a [Poller]
// dispatches events to. Transports implement this (typically via their
// [flow.Flow]) to receive readiness/completion notifications.
//
// A Channel is identified by a stable numeric id, allocated once by
// [NewChannelID] and never reused, so log correlation survives fd reuse by
// the OS.
type Channel interface {
	// ID returns the channel's stable identity.
	ID() uint64

	// FD returns the channel's file descriptor.
	FD() int

	// OnReadEvent is dispatched when data can be read (readiness) or a
	// submitted read completed (completion, via n/err from the task).
	OnReadEvent()

	// OnSendEvent is dispatched when the socket is writable (readiness) or
	// a submitted write completed (completion).
	OnSendEvent()

	// OnErrorEvent is dispatched when the poller observes a fatal error for
	// this channel's fd (spec §4.1 "Failure").
	OnErrorEvent(err error)
}

var nextChannelID atomic.Uint64

// NewChannelID returns a process-wide unique, stable channel identity.
func NewChannelID() uint64 {
	return nextChannelID.Add(1)
}

// Handle is a strong holder of a [Channel], used so a [Tracker] can refer to
// its channel through a [weak.Pointer] instead of a strong reference —
// channels own flows, flows own sockets, and trackers must not be the thing
// keeping a channel alive once its owner lets go (spec §3, §9 "Cyclic
// ownership").
//
// The owner of the Channel (typically a flow) constructs one Handle and
// keeps it alive for as long as the channel should remain reachable from a
// poller; the Tracker installed in the poller only ever sees a weak
// reference to it.
type Handle struct {
	Channel Channel
}

// NewHandle wraps ch in a new strong [Handle].
func NewHandle(ch Channel) *Handle {
	return &Handle{Channel: ch}
}

// spanID returns a fresh per-operation span identifier. Exposed internally
// so poller/tracker log lines can correlate without importing the root
// package (which would create an import cycle, since the root package may
// eventually depend on poll for its own examples).
func spanID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Extraordinarily unlikely (system RNG failure); fall back to the
		// nil UUID rather than taking this package's callers down with it.
		return ""
	}
	return id.String()
}
