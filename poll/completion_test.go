// SPDX-License-Identifier: GPL-3.0-or-later

package poll_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/netreactor/pump/poll"
	"github.com/stretchr/testify/require"
)

type countingChannel struct {
	id     uint64
	fd     int
	reads  atomic.Int32
	writes atomic.Int32
}

func (c *countingChannel) ID() uint64         { return c.id }
func (c *countingChannel) FD() int            { return c.fd }
func (c *countingChannel) OnReadEvent()       { c.reads.Add(1); time.Sleep(time.Millisecond) }
func (c *countingChannel) OnSendEvent()       { c.writes.Add(1) }
func (c *countingChannel) OnErrorEvent(error) {}

func TestCompletionPollerResubmitsUntilRemoved(t *testing.T) {
	p := poll.NewCompletionPoller(2, 5*time.Millisecond, nil)
	require.NoError(t, p.Start())
	defer func() {
		p.Stop()
		p.WaitStopped()
	}()

	ch := &countingChannel{id: poll.NewChannelID(), fd: 1}
	handle := poll.NewHandle(ch)
	tr := poll.NewTracker(handle, poll.InterestRead, poll.ModeLoop)
	require.True(t, p.AddTracker(tr))

	require.Eventually(t, func() bool {
		return ch.reads.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	p.RemoveTracker(tr)
	n := ch.reads.Load()
	time.Sleep(30 * time.Millisecond)
	require.LessOrEqual(t, ch.reads.Load(), n+1)
}

func TestCompletionPollerPauseStopsResubmission(t *testing.T) {
	p := poll.NewCompletionPoller(1, 5*time.Millisecond, nil)
	require.NoError(t, p.Start())
	defer func() {
		p.Stop()
		p.WaitStopped()
	}()

	ch := &countingChannel{id: poll.NewChannelID(), fd: 2}
	handle := poll.NewHandle(ch)
	tr := poll.NewTracker(handle, poll.InterestRead, poll.ModeLoop)
	require.True(t, p.AddTracker(tr))

	require.Eventually(t, func() bool {
		return ch.reads.Load() > 0
	}, time.Second, 5*time.Millisecond)

	p.PauseTracker(tr)
	time.Sleep(20 * time.Millisecond)
	n := ch.reads.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, n, ch.reads.Load())

	p.ResumeTracker(tr)
	require.Eventually(t, func() bool {
		return ch.reads.Load() > n
	}, time.Second, 5*time.Millisecond)
}

func TestCompletionPollerPostChannelEvent(t *testing.T) {
	p := poll.NewCompletionPoller(1, 5*time.Millisecond, nil)
	require.NoError(t, p.Start())
	defer func() {
		p.Stop()
		p.WaitStopped()
	}()

	ch := &countingChannel{id: poll.NewChannelID(), fd: 3}
	p.PostChannelEvent(ch, poll.EventSend)

	require.Eventually(t, func() bool {
		return ch.writes.Load() > 0
	}, time.Second, 5*time.Millisecond)
}
