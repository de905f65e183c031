// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/netreactor/pump/address"
)

// dialOutcome is the one-shot promise DialTCPSync/DialTLSSync block on: the
// async callback sets it exactly once, on whichever branch (OnDialed or
// OnTimeout) fires (spec §8 "a timeout instead fires OnTimeout, never
// both").
type dialOutcome[T any] struct {
	transport T
	timedOut  bool
}

// DialTCPSync blocks the caller on [DialTCP]'s async callback (spec §4.4
// "sync wrappers exist (`*_sync_dialer::dial`) that block the caller on a
// promise set by the async callback"). ctx bounds the wait itself,
// independent of connectTimeout, which bounds the connect attempt; a ctx
// cancellation leaves the dial racing in the background and the caller
// simply stops waiting on it.
func DialTCPSync(ctx context.Context, svc *Service, remote address.Endpoint, connectTimeout time.Duration) (*TCPTransport, error) {
	result := make(chan dialOutcome[*TCPTransport], 1)
	_, err := DialTCP(svc, remote, connectTimeout, DialCallbacks{
		OnDialed: func(t *TCPTransport, success bool) {
			if !success {
				result <- dialOutcome[*TCPTransport]{}
				return
			}
			result <- dialOutcome[*TCPTransport]{transport: t}
		},
		OnTimeout: func() { result <- dialOutcome[*TCPTransport]{timedOut: true} },
	})
	if err != nil {
		return nil, fmt.Errorf("transport: sync dial: %w", err)
	}

	select {
	case out := <-result:
		if out.transport == nil {
			if out.timedOut {
				return nil, fmt.Errorf("transport: sync dial: %s: %w", remote, context.DeadlineExceeded)
			}
			return nil, fmt.Errorf("transport: sync dial: %s: connect failed", remote)
		}
		return out.transport, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DialTLSSync blocks the caller on [DialTLS]'s async callback, mirroring
// [DialTCPSync] for the TLS dialer (spec §4.4).
func DialTLSSync(ctx context.Context, svc *Service, remote address.Endpoint, serverName string, connectTimeout, handshakeTimeout time.Duration, roots *x509.CertPool) (*TLSTransport, error) {
	result := make(chan dialOutcome[*TLSTransport], 1)
	err := DialTLS(svc, remote, serverName, connectTimeout, handshakeTimeout, roots, TLSDialCallbacks{
		OnDialed: func(t *TLSTransport, success bool) {
			if !success {
				result <- dialOutcome[*TLSTransport]{}
				return
			}
			result <- dialOutcome[*TLSTransport]{transport: t}
		},
		OnTimeout: func() { result <- dialOutcome[*TLSTransport]{timedOut: true} },
	})
	if err != nil {
		return nil, fmt.Errorf("transport: sync TLS dial: %w", err)
	}

	select {
	case out := <-result:
		if out.transport == nil {
			if out.timedOut {
				return nil, fmt.Errorf("transport: sync TLS dial: %s: %w", remote, context.DeadlineExceeded)
			}
			return nil, fmt.Errorf("transport: sync TLS dial: %s: handshake or connect failed", remote)
		}
		return out.transport, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
