// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stop is idempotent: calling it twice (e.g. once explicitly, once from a
// later OnErrorEvent) fires OnStopped exactly once.
func TestAcceptorStopIsIdempotent(t *testing.T) {
	svc := newTestService(t)

	acc, err := ListenTCP(svc, loopback(t), 16, nil)
	require.NoError(t, err)

	var stops atomic.Int32
	require.NoError(t, acc.Start(AcceptCallbacks{
		OnStopped: func() { stops.Add(1) },
	}))

	acc.Stop()
	acc.Stop()
	acc.OnErrorEvent(nil)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), stops.Load())
}

// An acceptor delivers one TCPTransport per accepted connection, and
// multiple concurrent dials are all accepted.
func TestAcceptorAcceptsMultipleConnections(t *testing.T) {
	svc := newTestService(t)

	acc, err := ListenTCP(svc, loopback(t), 16, nil)
	require.NoError(t, err)
	t.Cleanup(acc.Stop)

	const n = 5
	accepted := make(chan *TCPTransport, n)
	require.NoError(t, acc.Start(AcceptCallbacks{
		OnAccepted: func(tr *TCPTransport) { accepted <- tr },
	}))

	for i := 0; i < n; i++ {
		_, err := DialTCP(svc, acc.LocalAddr(), time.Second, DialCallbacks{})
		require.NoError(t, err)
	}

	seen := 0
	deadline := time.After(3 * time.Second)
	for seen < n {
		select {
		case tr := <-accepted:
			tr.ForceStop()
			seen++
		case <-deadline:
			t.Fatalf("only accepted %d/%d connections", seen, n)
		}
	}
}
