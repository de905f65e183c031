// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	pump "github.com/netreactor/pump"
	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/flow"
	"github.com/netreactor/pump/tlshandshake"
)

// TLSAcceptCallbacks are delivered by a [TLSAcceptor] (spec §6
// "tls_acceptor(cert,key,listen_addr,handshake_timeout_ms)").
type TLSAcceptCallbacks struct {
	OnAccepted func(t *TLSTransport)
	OnTimeout  func()
	OnStopped  func()
}

// TLSAcceptor wraps an [Acceptor] and drives a server-role TLS handshake
// on every accepted connection before handing the caller a [TLSTransport]
// (spec §4.4: "for TLS, while the handshake runs, the handshaker is
// retained in a table keyed by its identity; on completion or timeout it
// is removed and (if successful) a TLS transport is handed to the user").
type TLSAcceptor struct {
	inner            *Acceptor
	cert             tls.Certificate
	handshakeTimeout time.Duration
	cb               TLSAcceptCallbacks
	logger           pump.SLogger

	mu          sync.Mutex
	handshakers map[uint64]*tlshandshake.ServerHandshaker
	nextID      atomic.Uint64
}

// ListenTLS binds and listens on addr, authenticating every accepted
// connection with cert once [TLSAcceptor.Start] is called. handshakeTimeout
// bounds each connection's handshake independently of every other (spec
// §4.5 "start(service, timeout_ms, callbacks)").
func ListenTLS(svc *Service, addr address.Endpoint, backlog int, cert tls.Certificate, handshakeTimeout time.Duration, logger pump.SLogger) (*TLSAcceptor, error) {
	if logger == nil {
		logger = pump.DefaultSLogger()
	}
	inner, err := ListenTCP(svc, addr, backlog, logger)
	if err != nil {
		return nil, err
	}
	return &TLSAcceptor{
		inner:            inner,
		cert:             cert,
		handshakeTimeout: handshakeTimeout,
		logger:           logger,
		handshakers:      make(map[uint64]*tlshandshake.ServerHandshaker),
	}, nil
}

// LocalAddr returns the endpoint the acceptor is bound to.
func (a *TLSAcceptor) LocalAddr() address.Endpoint { return a.inner.LocalAddr() }

// Start installs the underlying TCP acceptor's tracker and arms accepts;
// every accepted connection is handed off to its own handshake goroutine
// rather than delivered to the caller directly.
func (a *TLSAcceptor) Start(cb TLSAcceptCallbacks) error {
	a.cb = cb
	return a.inner.Start(AcceptCallbacks{
		OnAccepted: a.runHandshake,
		OnStopped:  cb.OnStopped,
	})
}

// Stop closes the listening socket; handshakes already in flight run to
// completion or their own timeout independently.
func (a *TLSAcceptor) Stop() { a.inner.Stop() }

// runHandshake drives one accepted connection's server-role handshake on a
// dedicated goroutine, exactly mirroring [runHandshake] on the dialer side:
// tcp was produced by the inner TCP acceptor already attached to a live fd
// but never Start()-ed against a poller, so the handshaker gets exclusive,
// synchronous use of the flow first via a fresh [flow.TCPFlow] over the
// same fd.
func (a *TLSAcceptor) runHandshake(tcp *TCPTransport) {
	f := flow.NewTCPFlow(tcp.FD(), tcp.LocalAddr(), tcp.RemoteAddr())
	hs := tlshandshake.NewServerHandshaker(f, a.cert, a.handshakeTimeout)

	id := a.nextID.Add(1)
	a.mu.Lock()
	a.handshakers[id] = hs
	a.mu.Unlock()

	go hs.Start(tlshandshake.ServerCallbacks{
		OnHandshaked: func(success bool, readyFlow *flow.TCPFlow, session *tlshandshake.Session, err error) {
			a.mu.Lock()
			delete(a.handshakers, id)
			a.mu.Unlock()

			if !success {
				if a.cb.OnTimeout != nil && isTimeout(err) {
					a.cb.OnTimeout()
				}
				return
			}
			if session.ClientAppSecret == nil || session.ServerAppSecret == nil {
				return
			}
			t, terr := NewTLSTransport(readyFlow, session, session.ClientAppSecret, session.ServerAppSecret, false, a.logger)
			if terr != nil {
				return
			}
			if a.cb.OnAccepted != nil {
				a.cb.OnAccepted(t)
			}
		},
	})
}
