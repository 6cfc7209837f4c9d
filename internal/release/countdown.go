package release

import (
	"sync"
	"time"

	"github.com/saaga0h/room-release/pkg/clock"
)

// CountdownState is the check-in countdown phase.
type CountdownState int

const (
	CountdownIdle CountdownState = iota
	// CountdownPrompting: tick and decision timers pending.
	CountdownPrompting
	// CountdownDeciding: decision timer fired, final check in flight.
	CountdownDeciding
)

func (s CountdownState) String() string {
	switch s {
	case CountdownPrompting:
		return "prompting"
	case CountdownDeciding:
		return "deciding"
	default:
		return "idle"
	}
}

// Countdown drives the check-in prompt and the terminal decision timer.
// Methods without a timer receiver must be called with mu held; timer
// callbacks acquire mu themselves. Each start bumps the generation so
// callbacks from a cancelled countdown are ignored.
type Countdown struct {
	mu      sync.Locker
	clock   clock.Clock
	display Display
	opts    Options

	// onDecision runs without mu held once the decision timer fires.
	onDecision func(gen uint64)

	state     CountdownState
	gen       uint64
	remaining int
	ticks     int
	tick      clock.Timer
	decision  clock.Timer
}

func NewCountdown(mu sync.Locker, clk clock.Clock, display Display, opts Options, onDecision func(gen uint64)) *Countdown {
	return &Countdown{
		mu:         mu,
		clock:      clk,
		display:    display,
		opts:       opts,
		onDecision: onDecision,
	}
}

// Start shows the prompt and arms both timers. It is a no-op unless the
// countdown is idle.
func (c *Countdown) Start() bool {
	if c.state != CountdownIdle {
		return false
	}

	c.gen++
	gen := c.gen
	c.state = CountdownPrompting
	c.remaining = int(c.opts.PromptDuration / time.Second)
	c.ticks = 0

	c.display.ShowPrompt()
	if c.opts.PlayAnnouncement {
		c.display.PlayAnnouncement()
	}
	c.display.ShowCountdown(c.remaining)

	c.tick = c.clock.AfterFunc(c.opts.TickInterval, func() { c.onTick(gen) })
	c.decision = c.clock.AfterFunc(c.opts.PromptDuration+c.opts.DecisionBuffer, func() { c.onDecide(gen) })
	return true
}

func (c *Countdown) onTick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != CountdownPrompting {
		return
	}

	c.ticks++
	if c.remaining > 0 {
		c.remaining--
	}
	if c.opts.PromptRefresh > 0 && c.ticks%c.opts.PromptRefresh == 0 {
		c.display.ShowPrompt()
	}
	c.display.ShowCountdown(c.remaining)

	c.tick = c.clock.AfterFunc(c.opts.TickInterval, func() { c.onTick(gen) })
}

func (c *Countdown) onDecide(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != CountdownPrompting {
		c.mu.Unlock()
		return
	}
	clock.Stop(c.tick)
	c.tick = nil
	c.decision = nil
	c.state = CountdownDeciding
	c.mu.Unlock()

	if c.onDecision != nil {
		c.onDecision(gen)
	}
}

// Cancel stops both timers and returns to idle. It reports whether a
// countdown was in progress. UI is left to the caller.
func (c *Countdown) Cancel() bool {
	clock.Stop(c.tick)
	clock.Stop(c.decision)
	c.tick = nil
	c.decision = nil

	active := c.state != CountdownIdle
	if active {
		c.gen++
	}
	c.state = CountdownIdle
	return active
}

// Current reports whether gen is the countdown still in flight.
func (c *Countdown) Current(gen uint64) bool {
	return gen == c.gen && c.state != CountdownIdle
}

func (c *Countdown) State() CountdownState { return c.state }
func (c *Countdown) Active() bool          { return c.state != CountdownIdle }
func (c *Countdown) Remaining() int        { return c.remaining }
