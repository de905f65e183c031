// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package poll

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pump "github.com/netreactor/pump"
	"golang.org/x/sys/unix"
)

// ReadinessPoller is the epoll-backed implementation of [Poller] (spec
// §4.1 "Readiness variant"): tracker interest is edge-triggered, one-shot
// mode requires re-arming via [Poller.ResumeTracker] after each event, and
// reads/writes happen on the poller goroutine via the channel's own
// callback.
type ReadinessPoller struct {
	*core

	epfd   int
	wakeFD int // eventfd used to interrupt EpollWait from other goroutines

	wg sync.WaitGroup
}

// NewReadinessPoller creates an epoll-backed [*ReadinessPoller]. The workers
// argument is accepted for API parity with [Service]'s other poller
// constructors, but epoll_wait itself is single-threaded per instance here
// (spec §4.1 "Ordering": events for different channels may run concurrently
// only in the completion-notification variant); fan-out across channels is
// achieved instead at the [Service] level, which round-robins transports
// across several independent *ReadinessPoller instances, each pinning its
// own fds to its own epoll instance and goroutine.
func NewReadinessPoller(workers int, timeout time.Duration, logger pump.SLogger) (*ReadinessPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poll: epoll_create1: %w", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("poll: eventfd: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, fmt.Errorf("poll: epoll_ctl(wake): %w", err)
	}
	return &ReadinessPoller{
		core:   newCore("readiness", logger, timeout),
		epfd:   epfd,
		wakeFD: wakeFD,
	}, nil
}

var _ Poller = (*ReadinessPoller)(nil)

// Start implements [Poller].
func (p *ReadinessPoller) Start() error {
	p.wg.Add(1)
	go p.loop()
	p.logInfo("pollerStart")
	return nil
}

// Stop implements [Poller].
func (p *ReadinessPoller) Stop() {
	select {
	case <-p.stopped:
		return
	default:
	}
	close(p.stopped)
	p.wake()
}

// WaitStopped implements [Poller].
func (p *ReadinessPoller) WaitStopped() {
	p.wg.Wait()
	unix.Close(p.epfd)
	unix.Close(p.wakeFD)
	p.logInfo("pollerStopped")
}

func (p *ReadinessPoller) wake() {
	var one [8]byte
	one[0] = 1
	unix.Write(p.wakeFD, one[:])
}

// AddTracker implements [Poller].
func (p *ReadinessPoller) AddTracker(t *Tracker) bool {
	select {
	case <-p.stopped:
		return false
	default:
	}
	if t.Tracked() {
		return false
	}
	p.controlMailbox.push(controlRequest{kind: controlAdd, tracker: t})
	p.wake()
	return true
}

// RemoveTracker implements [Poller].
func (p *ReadinessPoller) RemoveTracker(t *Tracker) {
	p.controlMailbox.push(controlRequest{kind: controlRemove, tracker: t})
	p.wake()
}

// PauseTracker implements [Poller]. Synchronous: the OS interest is cleared
// before this call returns, so no further event for t's fd will be
// dispatched on the poller goroutine (spec §4.1).
func (p *ReadinessPoller) PauseTracker(t *Tracker) {
	p.applyControl(controlRequest{kind: controlPause, tracker: t})
	// Also queue the pause behind any add still waiting in the mailbox, so
	// that add cannot re-arm the tracker afterwards.
	p.controlMailbox.push(controlRequest{kind: controlPause, tracker: t})
}

// ResumeTracker implements [Poller].
func (p *ReadinessPoller) ResumeTracker(t *Tracker) {
	p.controlMailbox.push(controlRequest{kind: controlResume, tracker: t})
	p.wake()
}

// PostChannelEvent implements [Poller].
func (p *ReadinessPoller) PostChannelEvent(ch Channel, event EventCode) {
	p.eventMailbox.push(channelEvent{channel: ch, event: event})
	p.wake()
}

func (p *ReadinessPoller) loop() {
	defer p.wg.Done()
	events := make([]unix.EpollEvent, 128)
	for {
		select {
		case <-p.stopped:
			return
		default:
		}

		hadEvents := p.drainEventMailbox(64)
		hadControl := p.drainControlMailbox(p.applyControl)

		timeoutMS := int(p.timeout / time.Millisecond)
		if hadEvents > 0 || hadControl > 0 {
			timeoutMS = 0
		}

		n, err := unix.EpollWait(p.epfd, events, timeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.logInfo("pollerFatal", slog.Any("err", err))
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == p.wakeFD {
				var buf [8]byte
				unix.Read(p.wakeFD, buf[:])
				continue
			}
			p.dispatch(int(ev.Fd), ev.Events)
		}
	}
}

func (p *ReadinessPoller) dispatch(fd int, events uint32) {
	t, ok := p.trackerByFD(fd)
	if !ok {
		return
	}
	ch, ok := t.Channel()
	if !ok {
		// Owning handle is gone; drop the tracker lazily.
		p.removeFromEpoll(t)
		return
	}

	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ch.OnErrorEvent(fmt.Errorf("poll: fd %d reported EPOLLERR/EPOLLHUP", fd))
		return
	}
	if events&unix.EPOLLIN != 0 {
		ch.OnReadEvent()
	}
	if events&unix.EPOLLOUT != 0 {
		ch.OnSendEvent()
	}
	if t.Mode() == ModeOneShot {
		// Edge-triggered one-shot: interest must be explicitly resumed.
		t.started.Store(true)
	}
}

func epollEventsFor(i Interest) uint32 {
	var e uint32
	if i.Has(InterestRead) {
		e |= unix.EPOLLIN
	}
	if i.Has(InterestWrite) {
		e |= unix.EPOLLOUT
	}
	return e
}

func (p *ReadinessPoller) applyControl(r controlRequest) {
	armFlags := uint32(unix.EPOLLET)
	if r.tracker.Mode() == ModeOneShot {
		armFlags |= unix.EPOLLONESHOT
	}
	switch r.kind {
	case controlAdd:
		if !r.tracker.markTracked(&p.identity) {
			return
		}
		p.insertTracker(r.tracker)
		unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, r.tracker.FD(), &unix.EpollEvent{
			Events: epollEventsFor(r.tracker.Interest()) | armFlags,
			Fd:     int32(r.tracker.FD()),
		})
	case controlRemove:
		p.removeFromEpoll(r.tracker)
	case controlPause:
		unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, r.tracker.FD(), &unix.EpollEvent{
			Events: 0,
			Fd:     int32(r.tracker.FD()),
		})
	case controlResume:
		unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, r.tracker.FD(), &unix.EpollEvent{
			Events: epollEventsFor(r.tracker.Interest()) | armFlags,
			Fd:     int32(r.tracker.FD()),
		})
	}
}

func (p *ReadinessPoller) removeFromEpoll(t *Tracker) {
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, t.FD(), nil)
	p.deleteTracker(t)
	t.markUntracked()
}
