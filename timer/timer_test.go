// SPDX-License-Identifier: GPL-3.0-or-later

package timer_test

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/netreactor/pump/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTimerFires(t *testing.T) {
	q := timer.NewQueue(nil)
	q.Start()
	defer func() {
		q.Stop()
		q.WaitStopped()
	}()

	fired := make(chan struct{}, 1)
	q.AddTimer(10*time.Millisecond, func() {
		fired <- struct{}{}
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	q := timer.NewQueue(nil)
	q.Start()
	defer func() {
		q.Stop()
		q.WaitStopped()
	}()

	fired := false
	tm := q.AddTimer(20*time.Millisecond, func() {
		fired = true
	})
	tm.Cancel()

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired)
}

func TestRepeatingTimer(t *testing.T) {
	q := timer.NewQueue(nil)
	q.Start()
	defer func() {
		q.Stop()
		q.WaitStopped()
	}()

	var mu sync.Mutex
	count := 0
	tm := q.AddRepeatingTimer(10*time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	time.Sleep(55 * time.Millisecond)
	tm.Cancel()
	mu.Lock()
	got := count
	mu.Unlock()
	assert.GreaterOrEqual(t, got, 3)
}

// TestFairness exercises scenario S5: many timers at random deadlines fire
// in non-decreasing deadline order.
func TestFairness(t *testing.T) {
	q := timer.NewQueue(nil)
	q.Start()
	defer func() {
		q.Stop()
		q.WaitStopped()
	}()

	const n = 1000
	var mu sync.Mutex
	var order []time.Duration
	var wg sync.WaitGroup
	wg.Add(n)

	base := time.Now()
	for range n {
		d := time.Duration(rand.Intn(100)) * time.Millisecond
		q.AddTimer(d, func() {
			mu.Lock()
			order = append(order, time.Since(base))
			mu.Unlock()
			wg.Done()
		})
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("not all timers fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i := 1; i < len(order); i++ {
		assert.LessOrEqual(t, order[i-1]-20*time.Millisecond, order[i],
			"fire order should be roughly non-decreasing")
	}
}

func TestWaitStoppedWithoutStart(t *testing.T) {
	q := timer.NewQueue(nil)
	// Should not block forever.
	q.WaitStopped()
}
