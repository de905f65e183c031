// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"sync"

	pump "github.com/netreactor/pump"
	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/flow"
	"github.com/netreactor/pump/tlshandshake"
)

// TLSTransport wraps a TCPFlow whose handshake has already completed
// (spec §4.2 "TLS flow wraps a TCP flow"): every [TLSTransport.Send]
// seals its data as one application_data record with this side's write
// cipher (the client or server application traffic secret, by role); every
// readiness event decrypts and reassembles plaintext with the peer's read
// cipher.
//
// It shares TCPTransport's send arbitration algorithm rather than
// duplicating it: TLSTransport seals data itself, then hands the sealed
// bytes to an embedded TCPTransport for queuing/draining, exactly as if
// they were plaintext bytes over TCP.
type TLSTransport struct {
	*TCPTransport

	session     *tlshandshake.Session
	writeCipher *tlshandshake.ApplicationCipher
	readCipher  *tlshandshake.ApplicationCipher

	recvMu  sync.Mutex
	recvBuf []byte // undecrypted bytes accumulated across reads

	plainCB Callbacks
}

// NewTLSTransport wraps f (a TCP flow whose handshake already completed)
// with the application traffic ciphers derived from session.
func NewTLSTransport(f *flow.TCPFlow, session *tlshandshake.Session, clientSecret, serverSecret []byte, isClient bool, logger pump.SLogger) (*TLSTransport, error) {
	var writeSecret, readSecret []byte
	if isClient {
		writeSecret, readSecret = clientSecret, serverSecret
	} else {
		writeSecret, readSecret = serverSecret, clientSecret
	}
	wc, err := tlshandshake.NewApplicationCipher(writeSecret)
	if err != nil {
		return nil, fmt.Errorf("transport: application write cipher: %w", err)
	}
	rc, err := tlshandshake.NewApplicationCipher(readSecret)
	if err != nil {
		return nil, fmt.Errorf("transport: application read cipher: %w", err)
	}
	return &TLSTransport{
		TCPTransport: NewTCPTransport(f, logger),
		session:      session,
		writeCipher:  wc,
		readCipher:   rc,
	}, nil
}

// Start mirrors [TCPTransport.Start] but installs decrypting/encrypting
// callbacks in place of the raw byte callbacks.
func (t *TLSTransport) Start(svc *Service, maxPendingSendBytes uint64, cb Callbacks) Code {
	t.plainCB = cb
	return t.TCPTransport.Start(svc, maxPendingSendBytes, Callbacks{
		OnRead:         t.onEncryptedBytes,
		OnStopped:      cb.OnStopped,
		OnDisconnected: cb.OnDisconnected,
	})
}

// Send seals data as one application_data record and enqueues the sealed
// bytes on the underlying TCP send queue.
func (t *TLSTransport) Send(data []byte) Code {
	if len(data) == 0 {
		return CodeInvalid
	}
	sealed := t.writeCipher.Seal(data)
	return t.TCPTransport.Send(sealed)
}

const tlsRecordHeaderLen = 5

// onEncryptedBytes accumulates raw TCP bytes and peels off complete TLS
// records, decrypting each and delivering its plaintext to the caller's
// real OnRead.
func (t *TLSTransport) onEncryptedBytes(data []byte) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	t.recvBuf = append(t.recvBuf, data...)
	for {
		if len(t.recvBuf) < tlsRecordHeaderLen {
			return
		}
		length := int(t.recvBuf[3])<<8 | int(t.recvBuf[4])
		total := tlsRecordHeaderLen + length
		if len(t.recvBuf) < total {
			return
		}
		header := t.recvBuf[:tlsRecordHeaderLen]
		ciphertext := t.recvBuf[tlsRecordHeaderLen:total]
		plaintext, err := t.readCipher.Open(header, ciphertext)
		t.recvBuf = t.recvBuf[total:]
		if err != nil {
			t.logger.Debug("tlsRecordDropped", "err", err.Error())
			continue
		}
		if t.plainCB.OnRead != nil {
			t.plainCB.OnRead(plaintext)
		}
	}
}

// LocalAddr returns the transport's local endpoint.
func (t *TLSTransport) LocalAddr() address.Endpoint { return t.TCPTransport.LocalAddr() }

// RemoteAddr returns the transport's remote endpoint.
func (t *TLSTransport) RemoteAddr() address.Endpoint { return t.TCPTransport.RemoteAddr() }

// Session exposes the completed handshake's session for diagnostics
// (peer certificates, negotiated suite).
func (t *TLSTransport) Session() *tlshandshake.Session { return t.session }

