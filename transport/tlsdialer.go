// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"crypto/x509"
	"errors"
	"time"

	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/flow"
	"github.com/netreactor/pump/tlshandshake"
)

// TLSDialCallbacks are delivered by [DialTLS].
type TLSDialCallbacks struct {
	OnDialed  func(t *TLSTransport, success bool)
	OnTimeout func()
}

// DialTLS connects to remote, then drives a client TLS 1.3 handshake
// (spec §4.4, §4.5): the connect timer and the handshake timer are
// distinct, matching the two-phase nature of the operation, but both race
// against their respective completions under CAS so "the losing branch is
// a no-op" (spec §4.4).
func DialTLS(svc *Service, remote address.Endpoint, serverName string, connectTimeout, handshakeTimeout time.Duration, roots *x509.CertPool, cb TLSDialCallbacks) error {
	_, err := DialTCP(svc, remote, connectTimeout, DialCallbacks{
		OnDialed: func(tcp *TCPTransport, success bool) {
			if !success {
				if cb.OnDialed != nil {
					cb.OnDialed(nil, false)
				}
				return
			}
			runHandshake(svc, tcp, serverName, handshakeTimeout, roots, cb)
		},
		OnTimeout: cb.OnTimeout,
	})
	return err
}

func runHandshake(svc *Service, tcp *TCPTransport, serverName string, timeout time.Duration, roots *x509.CertPool, cb TLSDialCallbacks) {
	// tcp was produced by DialTCP already attached to a live fd but never
	// Start()-ed against a poller: the handshake needs exclusive,
	// synchronous use of the flow first. We reach into it via a fresh
	// TCPFlow built from the same fd/addresses so the handshaker's
	// blocking reads never race a poller dispatch.
	f := flow.NewTCPFlow(tcp.FD(), tcp.LocalAddr(), tcp.RemoteAddr())
	hs := tlshandshake.NewHandshaker(f, serverName, timeout, roots)

	go hs.Start(tlshandshake.Callbacks{
		OnHandshaked: func(success bool, readyFlow *flow.TCPFlow, session *tlshandshake.Session, err error) {
			if !success {
				if cb.OnTimeout != nil && isTimeout(err) {
					cb.OnTimeout()
					return
				}
				if cb.OnDialed != nil {
					cb.OnDialed(nil, false)
				}
				return
			}
			if session.ClientAppSecret == nil || session.ServerAppSecret == nil {
				if cb.OnDialed != nil {
					cb.OnDialed(nil, false)
				}
				return
			}
			t, terr := NewTLSTransport(readyFlow, session, session.ClientAppSecret, session.ServerAppSecret, true, svc.logger)
			if terr != nil {
				if cb.OnDialed != nil {
					cb.OnDialed(nil, false)
				}
				return
			}
			if cb.OnDialed != nil {
				cb.OnDialed(t, true)
			}
		},
	})
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var te timeouter
	return errors.As(err, &te) && te.Timeout()
}
