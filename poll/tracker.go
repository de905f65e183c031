// SPDX-License-Identifier: GPL-3.0-or-later

package poll

import (
	"sync/atomic"
	"weak"
)

// Interest is the set of OS readiness events a [Tracker] is armed for.
type Interest uint8

const (
	// InterestRead arms the tracker for read readiness.
	InterestRead Interest = 1 << iota
	// InterestWrite arms the tracker for write readiness.
	InterestWrite
)

// Has reports whether i includes other.
func (i Interest) Has(other Interest) bool { return i&other != 0 }

// Mode selects whether a [Tracker] re-arms itself after every event
// (Loop) or must be explicitly resumed (OneShot), per spec §4.1.
type Mode int

const (
	// ModeOneShot requires an explicit [Poller.ResumeTracker] call after
	// each delivered event before another one is dispatched.
	ModeOneShot Mode = iota
	// ModeLoop keeps the tracker armed across events (used by the
	// completion poller, which always resubmits).
	ModeLoop
)

// Tracker is the handle a [Channel]'s owner registers with exactly one
// [Poller] to express interest in events for that channel (spec §3).
//
// A Tracker moves through created -> added -> (paused <-> resumed) ->
// removed. It is never shared between pollers. It holds only a weak
// reference to its channel (via [weak.Pointer]), so a tracker sitting in a
// poller's internal table can never be the reason a channel (and the flow
// and socket it owns) outlives its intended lifetime.
type Tracker struct {
	id       uint64
	fd       int
	channel  weak.Pointer[Handle]
	interest atomic.Uint32 // Interest, accessed atomically for pause/resume
	mode     Mode

	tracked atomic.Bool // accepted into a poller's set
	started atomic.Bool // owner considers it live

	owner atomic.Pointer[pollerIdentity]
}

// pollerIdentity distinguishes poller instances without importing a
// concrete poller type here (both variants embed one).
type pollerIdentity struct{ name string }

// NewTracker creates a Tracker for handle, initially interested in
// interest, using mode. The Tracker starts in the "created" state: not yet
// tracked by any poller.
func NewTracker(handle *Handle, interest Interest, mode Mode) *Tracker {
	t := &Tracker{
		id:      NewChannelID(),
		fd:      handle.Channel.FD(),
		channel: weak.Make(handle),
		mode:    mode,
	}
	t.interest.Store(uint32(interest))
	return t
}

// ID returns the tracker's identity: a fresh id from [NewChannelID] taken
// at creation, distinct from the channel's own ID.
func (t *Tracker) ID() uint64 { return t.id }

// FD returns the fd the tracker was created for.
func (t *Tracker) FD() int { return t.fd }

// Channel resolves the tracker's weak channel reference. ok is false once
// the owning [Handle] has been collected, meaning the poller should drop
// any event destined for this tracker.
func (t *Tracker) Channel() (ch Channel, ok bool) {
	h := t.channel.Value()
	if h == nil {
		return nil, false
	}
	return h.Channel, true
}

// Interest returns the tracker's current interest set.
func (t *Tracker) Interest() Interest {
	return Interest(t.interest.Load())
}

// SetInterest atomically replaces the tracker's interest set.
func (t *Tracker) SetInterest(i Interest) {
	t.interest.Store(uint32(i))
}

// Mode returns the tracker's re-arm mode.
func (t *Tracker) Mode() Mode { return t.mode }

// Tracked reports whether the tracker has been accepted into a poller's
// set.
func (t *Tracker) Tracked() bool { return t.tracked.Load() }

// Started reports whether the tracker's owner still considers it live.
func (t *Tracker) Started() bool { return t.started.Load() }

func (t *Tracker) markTracked(owner *pollerIdentity) bool {
	if !t.tracked.CompareAndSwap(false, true) {
		return false
	}
	t.owner.Store(owner)
	t.started.Store(true)
	return true
}

func (t *Tracker) markUntracked() {
	t.started.Store(false)
	t.tracked.Store(false)
	t.owner.Store(nil)
}

func (t *Tracker) ownedBy(owner *pollerIdentity) bool {
	return t.owner.Load() == owner
}
