// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"testing"
	"time"

	pump "github.com/netreactor/pump"
	"github.com/netreactor/pump/address"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := pump.NewConfig()
	cfg.PollTimeout = time.Millisecond
	svc, err := NewService(cfg, 1, false)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)
	return svc
}

func loopback(t *testing.T) address.Endpoint {
	t.Helper()
	ep, err := address.Parse("127.0.0.1:0")
	require.NoError(t, err)
	return ep
}

// dialedPair establishes one accepted/dialed TCPTransport pair over
// loopback, unstarted, so the caller can build its own Callbacks (including
// OnRead) before the first Start call — avoiding any window where a
// callback field is mutated after the transport is already live on a
// poller goroutine.
func dialedPair(t *testing.T, svc *Service) (server, client *TCPTransport) {
	t.Helper()

	acc, err := ListenTCP(svc, loopback(t), 16, nil)
	require.NoError(t, err)
	t.Cleanup(acc.Stop)

	serverCh := make(chan *TCPTransport, 1)
	require.NoError(t, acc.Start(AcceptCallbacks{
		OnAccepted: func(tr *TCPTransport) { serverCh <- tr },
	}))

	clientCh := make(chan *TCPTransport, 1)
	_, err = DialTCP(svc, acc.LocalAddr(), time.Second, DialCallbacks{
		OnDialed: func(tr *TCPTransport, success bool) {
			if success {
				clientCh <- tr
			} else {
				clientCh <- nil
			}
		},
	})
	require.NoError(t, err)

	client = waitTransport(t, clientCh)
	require.NotNil(t, client)
	server = waitTransport(t, serverCh)
	require.NotNil(t, server)
	return server, client
}

// tcpPair establishes one accepted/dialed TCPTransport pair over loopback,
// both started (with no-op OnRead) and ready to exchange data.
func tcpPair(t *testing.T, svc *Service) (server, client *TCPTransport, serverDone, clientDone chan struct{}) {
	t.Helper()

	server, client = dialedPair(t, svc)

	serverDone = make(chan struct{})
	clientDone = make(chan struct{})

	require.Equal(t, CodeOK, server.Start(svc, 1<<20, Callbacks{
		OnRead:         func([]byte) {},
		OnStopped:      func() { close(serverDone) },
		OnDisconnected: func() { close(serverDone) },
	}))
	require.Equal(t, CodeOK, client.Start(svc, 1<<20, Callbacks{
		OnRead:         func([]byte) {},
		OnStopped:      func() { close(clientDone) },
		OnDisconnected: func() { close(clientDone) },
	}))

	return server, client, serverDone, clientDone
}

func waitTransport(t *testing.T, ch chan *TCPTransport) *TCPTransport {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport")
		return nil
	}
}

func waitClosed(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal callback")
	}
}
