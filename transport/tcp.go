// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	pump "github.com/netreactor/pump"
	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/flow"
	"github.com/netreactor/pump/iobuf"
	"github.com/netreactor/pump/poll"
)

// ReadMode selects between single-callback and continuous read delivery
// (spec §4.3 "read_for_once() / read_for_loop()").
type ReadMode int32

const (
	// ReadLoop delivers every available chunk within one readiness
	// dispatch as a separate [Callbacks.OnRead] call (the default).
	ReadLoop ReadMode = iota
	// ReadOnce delivers a single [Callbacks.OnRead] call per readiness
	// dispatch, leaving any further buffered bytes for the next one.
	ReadOnce
)

// Callbacks are delivered in order, on the poller goroutine owning a
// transport (spec §4.3). Exactly one of OnStopped/OnDisconnected fires,
// and never after the other.
type Callbacks struct {
	OnRead         func(data []byte)
	OnStopped      func()
	OnDisconnected func()
}

const defaultReadChunk = 4096

// TCPTransport is the public state machine for one connected TCP socket
// (spec §4.3). It owns a [flow.TCPFlow], a [sendQueue], and exactly one
// [poll.Tracker] installed in one [poll.Poller].
type TCPTransport struct {
	flow    *flow.TCPFlow
	poller  poll.Poller
	tracker *poll.Tracker

	status *statusBox
	sendQ  *sendQueue

	sendChunkSize int
	readChunkSize int
	readMode      atomic.Int32

	cb           Callbacks
	logger       pump.SLogger
	classifier   pump.ErrClassifier
	spanID       string
	terminalOnce sync.Once

	// handleKeepalive holds the one strong reference to the [poll.Handle]
	// installed in the poller; the tracker itself only holds a weak
	// reference (spec §9 "cyclic ownership"), so this field is what keeps
	// the transport reachable from poller dispatch while it runs.
	handleKeepalive *poll.Handle
}

var _ poll.Channel = (*TCPTransport)(nil)

// NewTCPTransport attaches to an already-connected flow (spec §4.3
// "init(fd, local_addr, remote_addr)"), in [StatusInit].
func NewTCPTransport(f *flow.TCPFlow, logger pump.SLogger) *TCPTransport {
	if logger == nil {
		logger = pump.DefaultSLogger()
	}
	return &TCPTransport{
		flow:          f,
		status:        newStatusBox(StatusInit),
		sendChunkSize: 4096,
		readChunkSize: defaultReadChunk,
		logger:        logger,
		classifier:    pump.DefaultErrClassifier,
		spanID:        pump.NewSpanID(),
	}
}

// LocalAddr returns the transport's local endpoint.
func (t *TCPTransport) LocalAddr() address.Endpoint { return t.flow.LocalAddr() }

// RemoteAddr returns the transport's remote endpoint.
func (t *TCPTransport) RemoteAddr() address.Endpoint { return t.flow.RemoteAddr() }

// Status returns the transport's current lifecycle state.
func (t *TCPTransport) Status() Status { return t.status.Load() }

// ID implements [poll.Channel].
func (t *TCPTransport) ID() uint64 { return t.flow.ID() }

// FD implements [poll.Channel].
func (t *TCPTransport) FD() int { return t.flow.FD() }

// OnReadEvent implements [poll.Channel].
func (t *TCPTransport) OnReadEvent() { t.doRead() }

// OnSendEvent implements [poll.Channel].
func (t *TCPTransport) OnSendEvent() {
	if t.sendQ.lastBuffer != nil {
		t.driveSend()
	}
}

// OnErrorEvent implements [poll.Channel].
func (t *TCPTransport) OnErrorEvent(err error) {
	t.abort(fmt.Errorf("transport: fd error: %w", err))
}

// ReadForOnce switches to [ReadOnce] delivery mode.
func (t *TCPTransport) ReadForOnce() { t.readMode.Store(int32(ReadOnce)) }

// ReadForLoop switches to [ReadLoop] delivery mode (the default).
func (t *TCPTransport) ReadForLoop() { t.readMode.Store(int32(ReadLoop)) }

// Start moves INIT -> STARTING -> STARTED, installs the transport's
// tracker in svc's poller, and arms the first read (spec §4.3).
func (t *TCPTransport) Start(svc *Service, maxPendingSendBytes uint64, cb Callbacks) Code {
	if !t.status.CAS(StatusInit, StatusStarting) {
		return CodeInvalid
	}
	t.cb = cb
	t.sendQ = newSendQueue(maxPendingSendBytes)
	t.poller = svc.nextPoller()
	if c := svc.Classifier(); c != nil {
		t.classifier = c
	}

	handle := poll.NewHandle(t)
	t.tracker = poll.NewTracker(handle, poll.InterestRead|poll.InterestWrite, poll.ModeLoop)
	if !t.poller.AddTracker(t.tracker) {
		t.status.Store(StatusErr)
		return CodeFault
	}
	// Keep a strong reference to handle alive for as long as the
	// transport is running — poll.Tracker only holds a weak one (spec §9
	// "cyclic ownership").
	t.handleKeepalive = handle

	t.status.Store(StatusStarted)
	return CodeOK
}

// Send enqueues a copy of data, segmented into chunks of at most
// t.sendChunkSize bytes (spec §4.3 "send(bytes)").
func (t *TCPTransport) Send(data []byte) Code {
	if len(data) == 0 {
		return CodeInvalid
	}
	if t.status.Load() != StatusStarted {
		return CodeInvalid
	}
	if t.sendQ.pendingBytesNow()+uint64(len(data)) > t.sendQ.maxPendingBytes {
		return CodeAgain
	}
	for off := 0; off < len(data); off += t.sendChunkSize {
		end := off + t.sendChunkSize
		if end > len(data) {
			end = len(data)
		}
		t.sendQ.enqueue(iobuf.New(data[off:end]))
	}
	t.trySend()
	return CodeOK
}

func (t *TCPTransport) trySend() {
	if t.sendQ.tryAcquireSendChance() {
		t.driveSend()
	}
}

// driveSend implements steps 2-3 of the send arbitration algorithm (spec
// §4.3). The caller must already hold next_send_chance.
func (t *TCPTransport) driveSend() {
	for {
		buf := t.sendQ.dequeue()
		if buf == nil {
			t.sendQ.releaseSendChance()
			if !t.sendQ.isEmpty() && t.sendQ.tryAcquireSendChance() {
				continue
			}
			t.maybeFinishGracefulStop()
			return
		}
		n, res := t.flow.Send(buf)
		switch res {
		case flow.ResultNo, flow.ResultNoData:
			t.sendQ.releaseBuffer(buf, n)
			continue
		case flow.ResultAgain:
			t.sendQ.parkPartial(buf, n)
			return
		case flow.ResultAbort:
			t.sendQ.releaseBuffer(buf, n)
			t.abort(fmt.Errorf("transport: send aborted"))
			return
		}
	}
}

func (t *TCPTransport) doRead() {
	mode := ReadMode(t.readMode.Load())
	for {
		if t.status.Load() != StatusStarted {
			return
		}
		buf, res := t.flow.Read(t.readChunkSize)
		switch res {
		case flow.ResultNo:
			if t.cb.OnRead != nil {
				t.cb.OnRead(buf.Bytes())
			}
			buf.Release()
			if mode == ReadOnce {
				return
			}
		case flow.ResultAgain, flow.ResultNoData:
			return
		case flow.ResultAbort:
			t.abort(fmt.Errorf("transport: read aborted"))
			return
		}
	}
}

// Stop moves STARTED -> STOPPING: further [TCPTransport.Send] calls are
// rejected, the current writer (if any) drains the queue, and the
// transport closes once the last buffer is sent (spec §4.3 "Graceful
// stop").
func (t *TCPTransport) Stop() Code {
	if !t.status.CAS(StatusStarted, StatusStopping) {
		if t.status.Load().IsTerminal() {
			return CodeOK // already stopped/disconnected: stop() is a no-op
		}
		return CodeInvalid
	}
	t.maybeFinishGracefulStop()
	return CodeOK
}

// maybeFinishGracefulStop closes the transport once STOPPING has been
// entered and the send queue has fully drained. Safe to call whether or
// not a writer is active.
func (t *TCPTransport) maybeFinishGracefulStop() {
	if t.status.Load() != StatusStopping {
		return
	}
	if !t.sendQ.isEmpty() {
		return
	}
	if !t.status.CAS(StatusStopping, StatusStopped) {
		return
	}
	t.poller.RemoveTracker(t.tracker)
	t.flow.Close()
	t.fireStopped()
}

// ForceStop closes the socket and discards the send queue immediately,
// regardless of pending writes (spec §4.3 "force_stop()").
func (t *TCPTransport) ForceStop() {
	for {
		cur := t.status.Load()
		if cur.IsTerminal() {
			return
		}
		if t.status.CAS(cur, StatusStopped) {
			break
		}
	}
	t.poller.RemoveTracker(t.tracker)
	t.flow.Close()
	t.sendQ.discard()
	t.fireStopped()
}

// abort handles an ABORT observed by either direction (spec §4.3
// "Disconnect detection"): STARTED -> DISCONNECTING -> DISCONNECTED.
func (t *TCPTransport) abort(err error) {
	for {
		cur := t.status.Load()
		if cur.IsTerminal() || cur == StatusDisconnecting {
			return
		}
		if t.status.CAS(cur, StatusDisconnecting) {
			break
		}
	}
	t.logger.Debug("transportAbort", "span", t.spanID, "class", t.classifier.Classify(err), "err", err.Error())
	t.poller.RemoveTracker(t.tracker)
	t.flow.Close()
	t.sendQ.discard()
	t.status.Store(StatusDisconnected)
	t.fireDisconnected()
}

// fireStopped and fireDisconnected each guard their callback with the same
// sync.Once, enforcing "exactly one terminal callback" (spec invariant 2):
// whichever of Stop/ForceStop/abort's internal paths gets there first wins.
func (t *TCPTransport) fireStopped() {
	t.terminalOnce.Do(func() {
		if t.cb.OnStopped != nil {
			t.cb.OnStopped()
		}
	})
}

func (t *TCPTransport) fireDisconnected() {
	t.terminalOnce.Do(func() {
		if t.cb.OnDisconnected != nil {
			t.cb.OnDisconnected()
		}
	})
}
