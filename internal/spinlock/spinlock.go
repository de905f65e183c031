// SPDX-License-Identifier: GPL-3.0-or-later

// Package spinlock provides a CAS-based spin mutex for sub-microsecond
// critical sections, where a full [sync.Mutex] would put a contending
// goroutine to sleep for work that finishes before the OS could even
// schedule it back in. No package in this module imports it: the poll
// tracker table uses a [sync.RWMutex] and the transport send queue a
// [sync.Mutex].
//
// Ported from the original implementation's spin_mutex (utils/spin_mutex.h),
// which spins for a configurable number of iterations before yielding the
// OS thread via sched_yield.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// SpinMutex is a CAS spinlock. The zero value is ready to use and spins up
// to 3 times before yielding the OS thread, matching the original's default
// per_loop.
type SpinMutex struct {
	perLoop int32
	locked  atomic.Bool
}

// New returns a SpinMutex that spins perLoop times before yielding. A
// perLoop <= 0 falls back to the default of 3.
func New(perLoop int32) *SpinMutex {
	if perLoop <= 0 {
		perLoop = 3
	}
	return &SpinMutex{perLoop: perLoop}
}

// Lock acquires the lock, spinning before yielding the OS thread.
func (m *SpinMutex) Lock() {
	perLoop := m.perLoop
	if perLoop <= 0 {
		perLoop = 3
	}
	var spins int32
	for !m.TryLock() {
		spins++
		if spins >= perLoop {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock attempts to acquire the lock without blocking.
func (m *SpinMutex) TryLock() bool {
	return m.locked.CompareAndSwap(false, true)
}

// Unlock releases the lock.
func (m *SpinMutex) Unlock() {
	m.locked.Store(false)
}

// IsLocked reports whether the lock is currently held. Racy by construction;
// intended for diagnostics, not for synchronization decisions.
func (m *SpinMutex) IsLocked() bool {
	return m.locked.Load()
}
