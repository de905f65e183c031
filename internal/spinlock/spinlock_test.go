// SPDX-License-Identifier: GPL-3.0-or-later

package spinlock_test

import (
	"sync"
	"testing"

	"github.com/netreactor/pump/internal/spinlock"
	"github.com/stretchr/testify/assert"
)

func TestTryLock(t *testing.T) {
	m := spinlock.New(3)
	assert.True(t, m.TryLock())
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.True(t, m.TryLock())
}

func TestConcurrentIncrement(t *testing.T) {
	m := spinlock.New(3)
	counter := 0
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock()
			counter++
			m.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}
