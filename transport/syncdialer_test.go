// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/netreactor/pump/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DialTCPSync blocks on exactly the outcome an async DialTCP would have
// delivered (spec §4.4 "sync wrappers ... block the caller on a promise set
// by the async callback").
func TestDialTCPSyncConnectsSuccessfully(t *testing.T) {
	svc := newTestService(t)

	acc, err := ListenTCP(svc, loopback(t), 16, nil)
	require.NoError(t, err)
	t.Cleanup(acc.Stop)
	require.NoError(t, acc.Start(AcceptCallbacks{
		OnAccepted: func(tr *TCPTransport) { tr.ForceStop() },
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := DialTCPSync(ctx, svc, acc.LocalAddr(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, tr)
	tr.ForceStop()
}

// A dial that can never succeed resolves DialTCPSync with an error rather
// than blocking forever, regardless of whether the underlying dial hit its
// own connectTimeout or the caller's ctx fired first.
func TestDialTCPSyncConnectTimeout(t *testing.T) {
	svc := newTestService(t)

	// RFC 5737 TEST-NET-1: reserved, non-routable.
	remote, err := address.Parse("192.0.2.1:9")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := DialTCPSync(ctx, svc, remote, 50*time.Millisecond)
	assert.Error(t, err)
	assert.Nil(t, tr)
}

// A caller-supplied ctx that expires before the dial settles unblocks
// DialTCPSync with ctx.Err(), leaving the dial itself to resolve later in
// the background.
func TestDialTCPSyncCallerContextExpires(t *testing.T) {
	svc := newTestService(t)

	remote, err := address.Parse("192.0.2.1:9")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = DialTCPSync(ctx, svc, remote, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
