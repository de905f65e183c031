// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"sync"

	pump "github.com/netreactor/pump"
	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/flow"
	"github.com/netreactor/pump/poll"
)

// AcceptCallbacks are delivered by an [Acceptor] (spec §6 "acceptor
// callbacks").
type AcceptCallbacks struct {
	OnAccepted func(t *TCPTransport)
	OnStopped  func()
}

// Acceptor holds a listen flow and produces a [TCPTransport] per accepted
// connection (spec §4.4).
type Acceptor struct {
	svc     *Service
	flow    *flow.TCPListenFlow
	poller  poll.Poller
	tracker *poll.Tracker
	cb      AcceptCallbacks
	logger  pump.SLogger

	handleKeepalive *poll.Handle
	stopOnce        sync.Once
}

var _ poll.Channel = (*Acceptor)(nil)

// ListenTCP binds and listens on addr, ready to accept once
// [Acceptor.Start] is called.
func ListenTCP(svc *Service, addr address.Endpoint, backlog int, logger pump.SLogger) (*Acceptor, error) {
	if logger == nil {
		logger = pump.DefaultSLogger()
	}
	f, err := flow.ListenTCP(addr, backlog)
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	return &Acceptor{svc: svc, flow: f, logger: logger}, nil
}

// LocalAddr returns the endpoint the acceptor is bound to.
func (a *Acceptor) LocalAddr() address.Endpoint { return a.flow.LocalAddr() }

// ID implements [poll.Channel].
func (a *Acceptor) ID() uint64 { return a.flow.ID() }

// FD implements [poll.Channel].
func (a *Acceptor) FD() int { return a.flow.FD() }

// OnReadEvent implements [poll.Channel]; read-readiness on a listening
// socket means one or more pending connections can be accepted.
func (a *Acceptor) OnReadEvent() {
	for {
		f, res := a.flow.Accept()
		switch res {
		case flow.ResultNo:
			t := NewTCPTransport(f, a.logger)
			if a.cb.OnAccepted != nil {
				a.cb.OnAccepted(t)
			}
		case flow.ResultAgain, flow.ResultNoData:
			return
		case flow.ResultAbort:
			a.Stop()
			return
		}
	}
}

// OnSendEvent implements [poll.Channel]; a listening socket has no write
// side.
func (a *Acceptor) OnSendEvent() {}

// OnErrorEvent implements [poll.Channel].
func (a *Acceptor) OnErrorEvent(error) { a.Stop() }

// Start installs the acceptor's tracker in svc's poller, arming accepts.
func (a *Acceptor) Start(cb AcceptCallbacks) error {
	a.cb = cb
	a.poller = a.svc.nextPoller()

	handle := poll.NewHandle(a)
	a.tracker = poll.NewTracker(handle, poll.InterestRead, poll.ModeLoop)
	if !a.poller.AddTracker(a.tracker) {
		return fmt.Errorf("transport: acceptor: poller rejected tracker")
	}
	a.handleKeepalive = handle
	return nil
}

// Stop closes the listening socket and fires OnStopped at most once.
func (a *Acceptor) Stop() {
	a.stopOnce.Do(func() {
		if a.poller != nil {
			a.poller.RemoveTracker(a.tracker)
		}
		a.flow.Close()
		if a.cb.OnStopped != nil {
			a.cb.OnStopped()
		}
	})
}
