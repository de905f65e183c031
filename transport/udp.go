// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync"

	pump "github.com/netreactor/pump"
	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/flow"
	"github.com/netreactor/pump/poll"
)

// DatagramCallbacks are delivered for a [UDPTransport]; OnDatagram also
// receives the sender's endpoint since UDP has no connection state (spec
// §4.2 "UDP flow has no connection state").
type DatagramCallbacks struct {
	OnDatagram func(data []byte, from address.Endpoint)
	OnStopped  func()
}

// UDPTransport is the public state machine for one bound UDP socket (spec
// §4.3). It has no send queue arbitration problem to solve — a UDP send is
// a single atomic syscall — but shares the same Status lifecycle and
// tracker discipline as [TCPTransport].
type UDPTransport struct {
	flow    *flow.UDPFlow
	poller  poll.Poller
	tracker *poll.Tracker

	status *statusBox
	cb     DatagramCallbacks
	logger pump.SLogger

	readChunkSize   int
	terminalOnce    sync.Once
	handleKeepalive *poll.Handle
}

var _ poll.Channel = (*UDPTransport)(nil)

// NewUDPTransport wraps an already-bound UDP flow.
func NewUDPTransport(f *flow.UDPFlow, logger pump.SLogger) *UDPTransport {
	if logger == nil {
		logger = pump.DefaultSLogger()
	}
	return &UDPTransport{flow: f, status: newStatusBox(StatusInit), readChunkSize: 65507, logger: logger}
}

// LocalAddr returns the endpoint the socket is bound to.
func (t *UDPTransport) LocalAddr() address.Endpoint { return t.flow.LocalAddr() }

// Status returns the transport's current lifecycle state.
func (t *UDPTransport) Status() Status { return t.status.Load() }

// ID implements [poll.Channel].
func (t *UDPTransport) ID() uint64 { return t.flow.ID() }

// FD implements [poll.Channel].
func (t *UDPTransport) FD() int { return t.flow.FD() }

// OnReadEvent implements [poll.Channel].
func (t *UDPTransport) OnReadEvent() {
	for {
		if t.status.Load() != StatusStarted {
			return
		}
		buf, from, res := t.flow.ReadFrom(t.readChunkSize)
		switch res {
		case flow.ResultNo:
			if t.cb.OnDatagram != nil {
				t.cb.OnDatagram(buf.Bytes(), from)
			}
			buf.Release()
		case flow.ResultAgain, flow.ResultNoData:
			return
		case flow.ResultAbort:
			t.ForceStop()
			return
		}
	}
}

// OnSendEvent implements [poll.Channel]; UDP sends are atomic at the
// syscall level, so there is no partial-write state to resume.
func (t *UDPTransport) OnSendEvent() {}

// OnErrorEvent implements [poll.Channel].
func (t *UDPTransport) OnErrorEvent(error) { t.ForceStop() }

// Start moves INIT -> STARTED and installs the transport's tracker.
func (t *UDPTransport) Start(svc *Service, cb DatagramCallbacks) Code {
	if !t.status.CAS(StatusInit, StatusStarting) {
		return CodeInvalid
	}
	t.cb = cb
	t.poller = svc.nextPoller()

	handle := poll.NewHandle(t)
	t.tracker = poll.NewTracker(handle, poll.InterestRead, poll.ModeLoop)
	if !t.poller.AddTracker(t.tracker) {
		t.status.Store(StatusErr)
		return CodeFault
	}
	t.handleKeepalive = handle
	t.status.Store(StatusStarted)
	return CodeOK
}

// SendTo sends one complete datagram to remote (spec §4.3's "send",
// specialized for UDP's atomic-per-call semantics). A zero-length
// datagram is explicitly valid (spec §8 boundary behaviors).
func (t *UDPTransport) SendTo(data []byte, remote address.Endpoint) Code {
	if t.status.Load() != StatusStarted {
		return CodeInvalid
	}
	res := t.flow.SendTo(data, remote)
	switch res {
	case flow.ResultNo:
		return CodeOK
	case flow.ResultAgain:
		return CodeAgain
	default:
		return CodeFault
	}
}

// Stop closes the socket (UDP has no drain phase; graceful and forced
// stop coincide).
func (t *UDPTransport) Stop() Code {
	return t.doStop()
}

// ForceStop is an alias for Stop on UDP transports, kept so callers can
// treat TCP and UDP transports uniformly.
func (t *UDPTransport) ForceStop() {
	t.doStop()
}

func (t *UDPTransport) doStop() Code {
	for {
		cur := t.status.Load()
		if cur.IsTerminal() {
			return CodeOK
		}
		if t.status.CAS(cur, StatusStopped) {
			break
		}
	}
	t.poller.RemoveTracker(t.tracker)
	t.flow.Close()
	t.terminalOnce.Do(func() {
		if t.cb.OnStopped != nil {
			t.cb.OnStopped()
		}
	})
	return CodeOK
}
