package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_FakeModeDeterministic(t *testing.T) {
	c := newClock()
	c.setFake(100 * time.Millisecond)
	assert.Equal(t, int64(100), c.nowMillis())

	c.advanceFake(250 * time.Millisecond)
	assert.Equal(t, int64(350), c.nowMillis())
}

func TestClock_RealModeMonotonic(t *testing.T) {
	c := newClock()
	first := c.nowMillis()
	time.Sleep(5 * time.Millisecond)
	second := c.nowMillis()
	assert.GreaterOrEqual(t, second, first)
}
