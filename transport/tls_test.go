// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"testing"
	"time"

	"github.com/netreactor/pump/tlshandshake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTLSTransportSealsAndOpensApplicationData exercises TLSTransport's
// record-layer wiring over a real loopback TCP pair, using a pair of
// matching (but not handshake-derived) application traffic secrets: it
// verifies that TLSTransport.Send seals with the client's write cipher and
// onEncryptedBytes correctly reassembles and decrypts TLS records on the
// peer side, independent of the handshake driver that normally produces
// these secrets.
func TestTLSTransportSealsAndOpensApplicationData(t *testing.T) {
	svc := newTestService(t)
	server, client := dialedPair(t, svc)

	clientSecret := make([]byte, 32)
	serverSecret := make([]byte, 32)
	for i := range clientSecret {
		clientSecret[i] = byte(i + 1)
		serverSecret[i] = byte(i + 100)
	}
	session := tlshandshake.NewSession()

	serverTLS, err := NewTLSTransport(server.flow, session, clientSecret, serverSecret, false, nil)
	require.NoError(t, err)
	clientTLS, err := NewTLSTransport(client.flow, session, clientSecret, serverSecret, true, nil)
	require.NoError(t, err)

	recv := make(chan []byte, 1)
	require.Equal(t, CodeOK, serverTLS.Start(svc, 1<<20, Callbacks{
		OnRead: func(data []byte) { recv <- append([]byte(nil), data...) },
	}))
	require.Equal(t, CodeOK, clientTLS.Start(svc, 1<<20, Callbacks{}))

	require.Equal(t, CodeOK, clientTLS.Send([]byte("sealed payload")))

	select {
	case got := <-recv:
		assert.Equal(t, "sealed payload", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decrypted application data")
	}

	clientTLS.ForceStop()
	serverTLS.ForceStop()
}

// A record with a tampered ciphertext is dropped rather than delivered or
// crashing the reassembly loop.
func TestTLSTransportDropsTamperedRecord(t *testing.T) {
	svc := newTestService(t)
	server, client := dialedPair(t, svc)

	clientSecret := make([]byte, 32)
	serverSecret := make([]byte, 32)
	for i := range clientSecret {
		clientSecret[i] = byte(i + 7)
		serverSecret[i] = byte(i + 200)
	}
	session := tlshandshake.NewSession()

	serverTLS, err := NewTLSTransport(server.flow, session, clientSecret, serverSecret, false, nil)
	require.NoError(t, err)
	clientTLS, err := NewTLSTransport(client.flow, session, clientSecret, serverSecret, true, nil)
	require.NoError(t, err)

	recv := make(chan []byte, 1)
	require.Equal(t, CodeOK, serverTLS.Start(svc, 1<<20, Callbacks{
		OnRead: func(data []byte) { recv <- append([]byte(nil), data...) },
	}))
	require.Equal(t, CodeOK, clientTLS.Start(svc, 1<<20, Callbacks{}))

	// Send raw, non-TLS-framed garbage directly on the underlying
	// TCPTransport so the peer's record parser sees a bogus 5-byte header
	// pointing at ciphertext it cannot authenticate.
	require.Equal(t, CodeOK, client.Send([]byte{0x17, 0x03, 0x03, 0x00, 0x05, 1, 2, 3, 4, 5}))

	select {
	case got := <-recv:
		t.Fatalf("expected the tampered record to be dropped, got %q", got)
	case <-time.After(200 * time.Millisecond):
	}

	clientTLS.ForceStop()
	serverTLS.ForceStop()
}
