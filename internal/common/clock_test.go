package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_FiresInDueOrder(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	var fired []string

	clock.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "b") })
	clock.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })

	clock.Advance(150 * time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 0, clock.Pending())
	assert.Equal(t, time.Unix(0, 0).Add(200*time.Millisecond), clock.Now())
}

func TestManualClock_StopPreventsFire(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	fired := false

	timer := clock.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	clock.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestManualClock_ChainedTimerWithinWindow(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	count := 0

	clock.AfterFunc(10*time.Millisecond, func() {
		count++
		clock.AfterFunc(10*time.Millisecond, func() { count++ })
	})

	clock.Advance(25 * time.Millisecond)
	assert.Equal(t, 2, count)
}
