// SPDX-License-Identifier: GPL-3.0-or-later

package poll_test

import (
	"runtime"
	"testing"

	"github.com/netreactor/pump/poll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	id uint64
	fd int
}

func (c *stubChannel) ID() uint64          { return c.id }
func (c *stubChannel) FD() int             { return c.fd }
func (c *stubChannel) OnReadEvent()        {}
func (c *stubChannel) OnSendEvent()        {}
func (c *stubChannel) OnErrorEvent(error)  {}

func TestTrackerResolvesChannelWhileHandleAlive(t *testing.T) {
	handle := poll.NewHandle(&stubChannel{id: poll.NewChannelID(), fd: 7})
	tr := poll.NewTracker(handle, poll.InterestRead, poll.ModeOneShot)

	ch, ok := tr.Channel()
	require.True(t, ok)
	assert.Equal(t, 7, ch.FD())
	runtime.KeepAlive(handle)
}

func TestTrackerLosesChannelAfterHandleCollected(t *testing.T) {
	handle := poll.NewHandle(&stubChannel{id: poll.NewChannelID(), fd: 9})
	tr := poll.NewTracker(handle, poll.InterestRead, poll.ModeOneShot)
	handle = nil

	for i := 0; i < 20; i++ {
		runtime.GC()
		if _, ok := tr.Channel(); !ok {
			return
		}
	}
	t.Fatal("tracker still resolves channel after handle was dropped and GC ran repeatedly")
}

func TestInterestHas(t *testing.T) {
	i := poll.InterestRead | poll.InterestWrite
	assert.True(t, i.Has(poll.InterestRead))
	assert.True(t, i.Has(poll.InterestWrite))
	assert.False(t, poll.InterestRead.Has(poll.InterestWrite))
}
