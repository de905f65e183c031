// SPDX-License-Identifier: GPL-3.0-or-later

//go:build darwin || freebsd || netbsd || openbsd

package poll

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pump "github.com/netreactor/pump"
	"golang.org/x/sys/unix"
)

// ReadinessPoller is the kqueue-backed implementation of [Poller] for BSD
// family kernels (spec §4.1 "Readiness variant"). It mirrors the Linux
// epoll poller's control-plane shape (shared [core], mailboxes, one-shot
// re-arm discipline) and swaps only the OS multiplex primitive.
type ReadinessPoller struct {
	*core

	kq     int
	wakeR  int
	wakeW  int
	wg     sync.WaitGroup
}

// NewReadinessPoller creates a kqueue-backed [*ReadinessPoller]. The workers
// argument is accepted for API parity with the Linux variant but kqueue
// itself is single-threaded here; fan-out across goroutines is left to the
// channel's own callback if it needs it.
func NewReadinessPoller(workers int, timeout time.Duration, logger pump.SLogger) (*ReadinessPoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("poll: kqueue: %w", err)
	}
	fds, err := selfPipe()
	if err != nil {
		unix.Close(kq)
		return nil, err
	}
	p := &ReadinessPoller{
		core:  newCore("readiness", logger, timeout),
		kq:    kq,
		wakeR: fds[0],
		wakeW: fds[1],
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(p.wakeR),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
		unix.Close(kq)
		return nil, fmt.Errorf("poll: kevent(wake): %w", err)
	}
	return p, nil
}

func selfPipe() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fds, fmt.Errorf("poll: pipe2: %w", err)
	}
	return fds, nil
}

var _ Poller = (*ReadinessPoller)(nil)

func (p *ReadinessPoller) Start() error {
	p.wg.Add(1)
	go p.loop()
	p.logInfo("pollerStart")
	return nil
}

func (p *ReadinessPoller) Stop() {
	select {
	case <-p.stopped:
		return
	default:
	}
	close(p.stopped)
	p.wake()
}

func (p *ReadinessPoller) WaitStopped() {
	p.wg.Wait()
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	unix.Close(p.kq)
	p.logInfo("pollerStopped")
}

func (p *ReadinessPoller) wake() {
	var one [1]byte
	unix.Write(p.wakeW, one[:])
}

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

func (p *ReadinessPoller) RemoveTracker(t *Tracker) {
	p.controlMailbox.push(controlRequest{kind: controlRemove, tracker: t})
	p.wake()
}

func (p *ReadinessPoller) PauseTracker(t *Tracker) {
	p.applyControl(controlRequest{kind: controlPause, tracker: t})
	// Also queue the pause behind any add still waiting in the mailbox, so
	// that add cannot re-arm the tracker afterwards.
	p.controlMailbox.push(controlRequest{kind: controlPause, tracker: t})
}

func (p *ReadinessPoller) ResumeTracker(t *Tracker) {
	p.controlMailbox.push(controlRequest{kind: controlResume, tracker: t})
	p.wake()
}

func (p *ReadinessPoller) PostChannelEvent(ch Channel, event EventCode) {
	p.eventMailbox.push(channelEvent{channel: ch, event: event})
	p.wake()
}

func (p *ReadinessPoller) loop() {
	defer p.wg.Done()
	events := make([]unix.Kevent_t, 128)
	for {
		select {
		case <-p.stopped:
			return
		default:
		}

		hadEvents := p.drainEventMailbox(64)
		hadControl := p.drainControlMailbox(p.applyControl)

		var ts *unix.Timespec
		if hadEvents == 0 && hadControl == 0 {
			d := p.timeout
			ts = &unix.Timespec{
				Sec:  int64(d / time.Second),
				Nsec: int64(d % time.Second),
			}
		} else {
			ts = &unix.Timespec{}
		}

		n, err := unix.Kevent(p.kq, nil, events, ts)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.logInfo("pollerFatal", slog.Any("err", err))
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Ident)
			if fd == p.wakeR {
				var buf [64]byte
				unix.Read(p.wakeR, buf[:])
				continue
			}
			p.dispatch(fd, ev)
		}
	}
}

func (p *ReadinessPoller) dispatch(fd int, ev unix.Kevent_t) {
	t, ok := p.trackerByFD(fd)
	if !ok {
		return
	}
	ch, ok := t.Channel()
	if !ok {
		p.removeFromKqueue(t)
		return
	}

	if ev.Flags&unix.EV_EOF != 0 && ev.Filter == unix.EVFILT_READ {
		ch.OnErrorEvent(fmt.Errorf("poll: fd %d reported EV_EOF", fd))
		return
	}
	switch ev.Filter {
	case unix.EVFILT_READ:
		ch.OnReadEvent()
	case unix.EVFILT_WRITE:
		ch.OnSendEvent()
	}
}

func kqueueChanges(fd int, i Interest, flag uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if i.Has(InterestRead) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flag})
	}
	if i.Has(InterestWrite) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flag})
	}
	return changes
}

func (p *ReadinessPoller) applyControl(r controlRequest) {
	armFlags := uint16(unix.EV_ADD | unix.EV_CLEAR)
	if r.tracker.Mode() == ModeOneShot {
		armFlags |= unix.EV_DISPATCH
	}
	switch r.kind {
	case controlAdd:
		if !r.tracker.markTracked(&p.identity) {
			return
		}
		p.insertTracker(r.tracker)
		changes := kqueueChanges(r.tracker.FD(), r.tracker.Interest(), armFlags)
		unix.Kevent(p.kq, changes, nil, nil)
	case controlRemove:
		p.removeFromKqueue(r.tracker)
	case controlPause:
		changes := kqueueChanges(r.tracker.FD(), InterestRead|InterestWrite, unix.EV_DELETE)
		unix.Kevent(p.kq, changes, nil, nil)
	case controlResume:
		changes := kqueueChanges(r.tracker.FD(), r.tracker.Interest(), armFlags)
		unix.Kevent(p.kq, changes, nil, nil)
	}
}

func (p *ReadinessPoller) removeFromKqueue(t *Tracker) {
	changes := kqueueChanges(t.FD(), InterestRead|InterestWrite, unix.EV_DELETE)
	unix.Kevent(p.kq, changes, nil, nil)
	p.deleteTracker(t)
	t.markUntracked()
}
