// SPDX-License-Identifier: GPL-3.0-or-later

package poll

import (
	"sync"
	"time"

	pump "github.com/netreactor/pump"
)

// CompletionPoller is the portable, goroutine-submission-based
// implementation of [Poller] modeled on the shape of the original
// implementation's IOCP poller (supplemented feature, see SPEC_FULL.md §12):
// instead of arming OS-level readiness, every interested tracker has its
// read and/or write side submitted as a blocking task to a worker pool, and
// the result is dispatched back to the channel as a completion, not a
// readiness notification.
//
// This variant never calls epoll/kqueue and carries no OS build tag; it
// trades a fixed pool of worker goroutines, each running one channel
// callback at a time, for portability and a
// completion-oriented callback shape, matching what IOCP gives callers on
// Windows without requiring a real syscall binding.
type CompletionPoller struct {
	*core

	workers   int
	tasks     chan completionTask
	wg        sync.WaitGroup
	submitMu  sync.Mutex
	submitted map[uint64]bool // tracker ids with an in-flight submission
}

type completionTask struct {
	tracker *Tracker
	kind    Interest
}

// NewCompletionPoller creates a [*CompletionPoller] backed by workers
// goroutines performing the submitted read/write calls.
func NewCompletionPoller(workers int, timeout time.Duration, logger pump.SLogger) *CompletionPoller {
	if workers < 1 {
		workers = 1
	}
	return &CompletionPoller{
		core:      newCore("completion", logger, timeout),
		workers:   workers,
		tasks:     make(chan completionTask, 256),
		submitted: make(map[uint64]bool),
	}
}

var _ Poller = (*CompletionPoller)(nil)

// Start implements [Poller].
func (p *CompletionPoller) Start() error {
	for range p.workers {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Add(1)
	go p.controlLoop()
	return nil
}

// Stop implements [Poller].
func (p *CompletionPoller) Stop() {
	select {
	case <-p.stopped:
		return
	default:
	}
	close(p.stopped)
}

// WaitStopped implements [Poller].
func (p *CompletionPoller) WaitStopped() {
	p.wg.Wait()
}

// AddTracker implements [Poller]. The completion poller always treats
// trackers as [ModeLoop]: a tracker stays submitted until removed, since
// completion-style dispatch resubmits after every event by construction.
func (p *CompletionPoller) AddTracker(t *Tracker) bool {
	select {
	case <-p.stopped:
		return false
	default:
	}
	if !t.markTracked(&p.identity) {
		return false
	}
	p.insertTracker(t)
	p.submit(t)
	return true
}

// RemoveTracker implements [Poller].
func (p *CompletionPoller) RemoveTracker(t *Tracker) {
	p.deleteTracker(t)
	t.markUntracked()
	p.submitMu.Lock()
	delete(p.submitted, t.ID())
	p.submitMu.Unlock()
}

// PauseTracker implements [Poller]. For the completion variant, pausing
// just prevents a fresh submission from being issued once the in-flight one
// completes; there is no way to cancel a blocking read/write already
// handed to a worker.
func (p *CompletionPoller) PauseTracker(t *Tracker) {
	t.started.Store(false) // runTask does not resubmit a paused tracker
}

// ResumeTracker implements [Poller].
func (p *CompletionPoller) ResumeTracker(t *Tracker) {
	t.started.Store(true)
	p.submitMu.Lock()
	delete(p.submitted, t.ID())
	p.submitMu.Unlock()
	p.submit(t)
}

// PostChannelEvent implements [Poller].
func (p *CompletionPoller) PostChannelEvent(ch Channel, event EventCode) {
	p.eventMailbox.push(channelEvent{channel: ch, event: event})
}

func (p *CompletionPoller) submit(t *Tracker) {
	p.submitMu.Lock()
	if p.submitted[t.ID()] {
		p.submitMu.Unlock()
		return
	}
	p.submitted[t.ID()] = true
	p.submitMu.Unlock()

	interest := t.Interest()
	select {
	case p.tasks <- completionTask{tracker: t, kind: interest}:
	case <-p.stopped:
	}
}

func (p *CompletionPoller) controlLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-p.stopped:
			return
		case <-ticker.C:
			p.drainEventMailbox(64)
		}
	}
}

func (p *CompletionPoller) pollInterval() time.Duration {
	if p.timeout <= 0 {
		return 5 * time.Millisecond
	}
	return p.timeout
}

// worker performs the I/O implied by a completion task: it invokes the
// channel's own OnReadEvent/OnSendEvent, which for completion-style
// channels is expected to perform a single blocking operation and report
// its own result, then resubmits unless the tracker was removed or paused
// in the meantime.
func (p *CompletionPoller) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopped:
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.runTask(task)
		}
	}
}

func (p *CompletionPoller) runTask(task completionTask) {
	ch, ok := task.tracker.Channel()
	if !ok {
		p.RemoveTracker(task.tracker)
		return
	}
	if task.kind.Has(InterestRead) {
		ch.OnReadEvent()
	}
	if task.kind.Has(InterestWrite) {
		ch.OnSendEvent()
	}

	p.submitMu.Lock()
	delete(p.submitted, task.tracker.ID())
	p.submitMu.Unlock()

	if task.tracker.Tracked() && task.tracker.Started() {
		p.submit(task.tracker)
	}
}
