package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRole_ExclusiveOwnership(t *testing.T) {
	var r schedulerRole
	assert.True(t, r.tryTake())
	assert.False(t, r.tryTake(), "a second taker must not succeed while held")
	r.release()
	assert.True(t, r.tryTake(), "role must be takeable again after release")
}

func TestSchedulerRole_ConcurrentTryTake_OnlyOneWinner(t *testing.T) {
	var r schedulerRole
	const n = 64
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if r.tryTake() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
