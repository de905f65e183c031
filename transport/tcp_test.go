// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1: a client sends a message, the server echoes it back, and the client
// observes exactly the bytes it sent.
func TestTCPEcho(t *testing.T) {
	svc := newTestService(t)
	server, client := dialedPair(t, svc)

	recv := make(chan []byte, 1)
	require.Equal(t, CodeOK, server.Start(svc, 1<<20, Callbacks{
		OnRead: func(data []byte) {
			cp := append([]byte(nil), data...)
			require.Equal(t, CodeOK, server.Send(cp))
		},
	}))
	require.Equal(t, CodeOK, client.Start(svc, 1<<20, Callbacks{
		OnRead: func(data []byte) { recv <- append([]byte(nil), data...) },
	}))

	require.Equal(t, CodeOK, client.Send([]byte("hello reactor")))

	select {
	case got := <-recv:
		assert.Equal(t, "hello reactor", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	client.ForceStop()
	server.ForceStop()
}

// S2: a graceful Stop() on one side drains its queue, closes, and fires
// exactly one terminal callback; the peer observes a disconnect.
func TestTCPHalfClose(t *testing.T) {
	svc := newTestService(t)
	server, client, serverDone, clientDone := tcpPair(t, svc)

	require.Equal(t, CodeOK, client.Send([]byte("bye")))
	require.Equal(t, CodeOK, client.Stop())

	waitClosed(t, clientDone)
	assert.True(t, client.Status().IsTerminal())

	waitClosed(t, serverDone)
	assert.True(t, server.Status().IsTerminal())
}

// Invariant 2/3: exactly one of OnStopped/OnDisconnected ever fires, and
// never more than once, even when ForceStop races the disconnect path.
func TestTCPExactlyOneTerminalCallback(t *testing.T) {
	svc := newTestService(t)
	server, client := dialedPair(t, svc)

	var calls atomic.Int32
	clientDone := make(chan struct{})
	require.Equal(t, CodeOK, server.Start(svc, 1<<20, Callbacks{OnRead: func([]byte) {}}))
	require.Equal(t, CodeOK, client.Start(svc, 1<<20, Callbacks{
		OnRead:         func([]byte) {},
		OnStopped:      func() { calls.Add(1); close(clientDone) },
		OnDisconnected: func() { calls.Add(1); close(clientDone) },
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.ForceStop()
		}()
	}
	wg.Wait()

	waitClosed(t, clientDone)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	server.ForceStop()
}

// Invariant 5: once a transport's send queue holds maxPendingSendBytes,
// further Send calls return CodeAgain rather than growing unbounded.
func TestTCPSendBackpressure(t *testing.T) {
	svc := newTestService(t)
	acc, err := ListenTCP(svc, loopback(t), 16, nil)
	require.NoError(t, err)
	t.Cleanup(acc.Stop)

	serverCh := make(chan *TCPTransport, 1)
	require.NoError(t, acc.Start(AcceptCallbacks{
		OnAccepted: func(tr *TCPTransport) { serverCh <- tr },
	}))

	clientCh := make(chan *TCPTransport, 1)
	_, err = DialTCP(svc, acc.LocalAddr(), time.Second, DialCallbacks{
		OnDialed: func(tr *TCPTransport, success bool) { clientCh <- tr },
	})
	require.NoError(t, err)

	client := waitTransport(t, clientCh)
	server := waitTransport(t, serverCh)

	// Never read on the server so the client's kernel send buffer, and
	// then its own pending queue, both fill up.
	require.Equal(t, CodeOK, server.Start(svc, 1<<20, Callbacks{}))
	require.Equal(t, CodeOK, client.Start(svc, 64*1024, Callbacks{}))

	payload := make([]byte, 16*1024)
	var sawAgain bool
	for i := 0; i < 64; i++ {
		switch client.Send(payload) {
		case CodeOK:
		case CodeAgain:
			sawAgain = true
		default:
			t.Fatalf("unexpected Send result at iteration %d", i)
		}
		if sawAgain {
			break
		}
	}
	assert.True(t, sawAgain, "expected backpressure to trip within the configured ceiling")

	client.ForceStop()
	server.ForceStop()
}

// Invariant 4: once a transport reaches a terminal status, its tracker is
// detached from the poller — RemoveTracker is idempotent/no-op safe and the
// fd is closed, so no further event ever reaches the channel.
func TestTCPTerminalDetachesTracker(t *testing.T) {
	svc := newTestService(t)
	server, client, serverDone, clientDone := tcpPair(t, svc)
	_ = serverDone

	client.ForceStop()
	waitClosed(t, clientDone)
	assert.Eventually(t, func() bool { return !client.tracker.Tracked() }, time.Second, 5*time.Millisecond,
		"tracker still attached to the poller after a terminal status")

	assert.Equal(t, CodeOK, client.Stop(), "Stop on an already-terminal transport is a no-op, not an error")

	server.ForceStop()
}

// ReadOnce delivers exactly one OnRead per readiness dispatch, leaving the
// remainder queued for the transport's next one.
func TestTCPReadOnceDeliversSingleChunk(t *testing.T) {
	svc := newTestService(t)
	server, client := dialedPair(t, svc)

	var reads atomic.Int32
	client.ReadForOnce()
	require.Equal(t, CodeOK, server.Start(svc, 1<<20, Callbacks{OnRead: func([]byte) {}}))
	require.Equal(t, CodeOK, client.Start(svc, 1<<20, Callbacks{OnRead: func([]byte) { reads.Add(1) }}))

	require.Equal(t, CodeOK, server.Send([]byte("aaaa")))
	require.Equal(t, CodeOK, server.Send([]byte("bbbb")))

	time.Sleep(100 * time.Millisecond)
	assert.GreaterOrEqual(t, reads.Load(), int32(1))

	client.ForceStop()
	server.ForceStop()
}
