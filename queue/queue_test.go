// SPDX-License-Identifier: GPL-3.0-or-later

package queue_test

import (
	"sync"
	"testing"

	"github.com/netreactor/pump/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMPSCQueueFIFO(t *testing.T) {
	var q queue.MPSCQueue[int]
	q.Push(1)
	q.Push(2)
	q.Push(3)

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	rest := q.Drain(0)
	assert.Equal(t, []int{2, 3}, rest)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestMPSCQueueDrainBounded(t *testing.T) {
	var q queue.MPSCQueue[int]
	for i := range 10 {
		q.Push(i)
	}
	first := q.Drain(4)
	assert.Equal(t, []int{0, 1, 2, 3}, first)
	assert.Equal(t, 6, q.Len())
}

func TestMPSCQueueConcurrentPush(t *testing.T) {
	var q queue.MPSCQueue[int]
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			q.Push(v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
}

func TestBlockingQueue(t *testing.T) {
	q := queue.NewBlockingQueue[string](1)
	assert.True(t, q.TryPush("a"))
	assert.False(t, q.TryPush("b"))

	done := make(chan struct{})
	v, ok := q.Pop(done)
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestBlockingQueuePopCancelled(t *testing.T) {
	q := queue.NewBlockingQueue[int](0)
	done := make(chan struct{})
	close(done)
	_, ok := q.Pop(done)
	assert.False(t, ok)
}
