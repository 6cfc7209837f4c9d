package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	var seen []time.Time

	c.AfterFunc(3*time.Second, func() { order = append(order, "c"); seen = append(seen, c.Now()) })
	c.AfterFunc(1*time.Second, func() { order = append(order, "a"); seen = append(seen, c.Now()) })
	c.AfterFunc(2*time.Second, func() { order = append(order, "b"); seen = append(seen, c.Now()) })

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []time.Time{epoch.Add(time.Second), epoch.Add(2 * time.Second), epoch.Add(3 * time.Second)}, seen)
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
	assert.Equal(t, 0, c.Pending())
}

func TestFakeRearmingCallbackFiresWithinWindow(t *testing.T) {
	c := Fake(epoch)
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)

	assert.Equal(t, 10, ticks)
	assert.Equal(t, 1, c.Pending())
}

func TestFakeStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeStopAfterFire(t *testing.T) {
	c := Fake(epoch)
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, timer.Stop())
}

func TestFakeZeroDurationFiresOnNextAdvance(t *testing.T) {
	c := Fake(epoch)
	fired := false
	c.AfterFunc(0, func() { fired = true })
	assert.False(t, fired)

	c.Advance(0)
	assert.True(t, fired)
}

func TestStopNil(t *testing.T) {
	assert.NotPanics(t, func() { Stop(nil) })
}
