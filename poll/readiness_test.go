// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux || darwin || freebsd || netbsd || openbsd

package poll_test

import (
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/netreactor/pump/poll"
	"github.com/stretchr/testify/require"
)

type fdChannel struct {
	id      uint64
	file    *os.File
	reads   atomic.Int32
	writes  atomic.Int32
	lastErr atomic.Value
}

func newFDChannel(f *os.File) *fdChannel {
	return &fdChannel{id: poll.NewChannelID(), file: f}
}

func (c *fdChannel) ID() uint64 { return c.id }
func (c *fdChannel) FD() int    { return int(c.file.Fd()) }
func (c *fdChannel) OnReadEvent() {
	c.reads.Add(1)
}
func (c *fdChannel) OnSendEvent() {
	c.writes.Add(1)
}
func (c *fdChannel) OnErrorEvent(err error) {
	c.lastErr.Store(err)
}

func tcpLoopbackPair(t *testing.T) (client, server *os.File) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		acceptCh <- conn
	}()

	cconn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	sconn := <-acceptCh

	cf, err := cconn.(*net.TCPConn).File()
	require.NoError(t, err)
	sf, err := sconn.(*net.TCPConn).File()
	require.NoError(t, err)

	cconn.Close()
	sconn.Close()
	return cf, sf
}

func TestReadinessPollerDispatchesReadEvent(t *testing.T) {
	p, err := poll.NewReadinessPoller(1, 50*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer func() {
		p.Stop()
		p.WaitStopped()
	}()

	client, server := tcpLoopbackPair(t)
	defer client.Close()
	defer server.Close()

	ch := newFDChannel(server)
	handle := poll.NewHandle(ch)
	tr := poll.NewTracker(handle, poll.InterestRead, poll.ModeLoop)
	require.True(t, p.AddTracker(tr))

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ch.reads.Load() > 0
	}, time.Second, 5*time.Millisecond)

	p.RemoveTracker(tr)
}

func TestReadinessPollerPauseResume(t *testing.T) {
	p, err := poll.NewReadinessPoller(1, 20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer func() {
		p.Stop()
		p.WaitStopped()
	}()

	client, server := tcpLoopbackPair(t)
	defer client.Close()
	defer server.Close()

	ch := newFDChannel(server)
	handle := poll.NewHandle(ch)
	tr := poll.NewTracker(handle, poll.InterestRead, poll.ModeOneShot)
	require.True(t, p.AddTracker(tr))

	p.PauseTracker(tr)
	client.Write([]byte("first"))
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(0), ch.reads.Load())

	p.ResumeTracker(tr)
	require.Eventually(t, func() bool {
		return ch.reads.Load() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestReadinessPollerPostChannelEvent(t *testing.T) {
	p, err := poll.NewReadinessPoller(1, 20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer func() {
		p.Stop()
		p.WaitStopped()
	}()

	_, server := tcpLoopbackPair(t)
	defer server.Close()

	ch := newFDChannel(server)
	p.PostChannelEvent(ch, poll.EventSend)

	require.Eventually(t, func() bool {
		return ch.writes.Load() > 0
	}, time.Second, 5*time.Millisecond)
}
