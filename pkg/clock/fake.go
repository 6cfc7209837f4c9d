package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time only moves when Advance is
// called, and pending AfterFunc callbacks run synchronously on the
// goroutine calling Advance, in deadline order. A callback observes
// Now() equal to its own deadline and may schedule new timers, which
// fire within the same Advance if they fall inside the window.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	seq     uint64
	waiters []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	seq      uint64
	f        func()
	done     bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock has advanced by d.
// Non-positive durations fire on the next Advance, including Advance(0).
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	c.seq++
	t := &fakeTimer{
		clock:    c,
		deadline: c.current.Add(d),
		seq:      c.seq,
		f:        f,
	}
	c.waiters = append(c.waiters, t)
	return t
}

// Advance moves the clock forward by d, firing every timer whose
// deadline falls within the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		t := c.popExpired(target)
		if t == nil {
			break
		}
		t.f()
	}

	c.mu.Lock()
	if c.current.Before(target) {
		c.current = target
	}
	c.mu.Unlock()
}

// AdvanceTo moves the clock to the given instant. Instants in the past
// only fire timers that are already due.
func (c *FakeClock) AdvanceTo(instant time.Time) {
	c.Advance(instant.Sub(c.Now()))
}

// popExpired removes and returns the earliest due timer, moving the
// clock to its deadline. Ties fire in registration order.
func (c *FakeClock) popExpired(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, t := range c.waiters {
		if t.deadline.After(target) {
			continue
		}
		if idx < 0 || t.deadline.Before(c.waiters[idx].deadline) ||
			(t.deadline.Equal(c.waiters[idx].deadline) && t.seq < c.waiters[idx].seq) {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}

	t := c.waiters[idx]
	c.waiters = append(c.waiters[:idx], c.waiters[idx+1:]...)
	t.done = true
	if t.deadline.After(c.current) {
		c.current = t.deadline
	}
	return t
}

// Pending returns the number of timers that have neither fired nor
// been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	for i, w := range c.waiters {
		if w == t {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	return true
}
