// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	pump "github.com/netreactor/pump"
	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/flow"
	"github.com/netreactor/pump/poll"
)

// DialCallbacks are delivered by a [Dialer] (spec §6 "dialer callbacks").
type DialCallbacks struct {
	// OnDialed fires exactly once. success is false if the connect
	// failed outright (and t is nil); a timeout instead fires OnTimeout,
	// never both (spec §8 boundary behaviors).
	OnDialed  func(t *TCPTransport, success bool)
	OnTimeout func()
}

// Dialer owns a connect flow, races it against a connect-timeout timer,
// and yields a [TCPTransport] on success (spec §4.4).
type Dialer struct {
	svc     *Service
	flow    *flow.TCPDialFlow
	poller  poll.Poller
	tracker *poll.Tracker
	cb      DialCallbacks
	logger  pump.SLogger

	settled         atomic.Bool
	handleKeepalive *poll.Handle
}

var _ poll.Channel = (*Dialer)(nil)

// DialTCP begins an asynchronous, non-blocking TCP connect to remote,
// racing connectTimeout against completion (spec §4.4).
func DialTCP(svc *Service, remote address.Endpoint, connectTimeout time.Duration, cb DialCallbacks) (*Dialer, error) {
	f, err := flow.DialTCP(remote)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	d := &Dialer{svc: svc, flow: f, cb: cb, logger: svc.logger, poller: svc.nextPoller()}

	handle := poll.NewHandle(d)
	d.tracker = poll.NewTracker(handle, poll.InterestWrite, poll.ModeLoop)
	if !d.poller.AddTracker(d.tracker) {
		f.Close()
		return nil, fmt.Errorf("transport: dialer: poller rejected tracker")
	}
	d.handleKeepalive = handle

	d.svc.Timers().AddTimer(connectTimeout, d.onTimeout)
	return d, nil
}

// ID implements [poll.Channel].
func (d *Dialer) ID() uint64 { return d.flow.ID() }

// FD implements [poll.Channel].
func (d *Dialer) FD() int { return d.flow.FD() }

// OnReadEvent implements [poll.Channel]; a connecting socket has no read
// side.
func (d *Dialer) OnReadEvent() {}

// OnSendEvent implements [poll.Channel]; write-readiness on a connecting
// socket means connect() has a result available via SO_ERROR.
func (d *Dialer) OnSendEvent() {
	if !d.settled.CompareAndSwap(false, true) {
		return // timer already won the race
	}
	d.poller.RemoveTracker(d.tracker)

	connected, res := d.flow.CheckConnected()
	if res != flow.ResultNo {
		d.flow.Close()
		if d.cb.OnDialed != nil {
			d.cb.OnDialed(nil, false)
		}
		return
	}
	t := NewTCPTransport(connected, d.logger)
	if d.cb.OnDialed != nil {
		d.cb.OnDialed(t, true)
	}
}

// OnErrorEvent implements [poll.Channel].
func (d *Dialer) OnErrorEvent(error) {
	if !d.settled.CompareAndSwap(false, true) {
		return
	}
	d.poller.RemoveTracker(d.tracker)
	d.flow.Close()
	if d.cb.OnDialed != nil {
		d.cb.OnDialed(nil, false)
	}
}

func (d *Dialer) onTimeout() {
	if !d.settled.CompareAndSwap(false, true) {
		return // connect already won the race
	}
	d.poller.RemoveTracker(d.tracker)
	d.flow.Close()
	if d.cb.OnTimeout != nil {
		d.cb.OnTimeout()
	}
}
