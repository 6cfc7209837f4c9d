package release

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/room-release/pkg/clock"
)

type countdownHarness struct {
	mu        sync.Mutex
	clk       *clock.FakeClock
	display   *fakeDisplay
	countdown *Countdown
	decisions []uint64
}

func newCountdownHarness(opts Options) *countdownHarness {
	h := &countdownHarness{clk: clock.Fake(t0), display: &fakeDisplay{}}
	h.countdown = NewCountdown(&h.mu, h.clk, h.display, opts, func(gen uint64) {
		h.decisions = append(h.decisions, gen)
	})
	return h
}

func (h *countdownHarness) start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.countdown.Start()
}

func TestCountdownDoubleStartIsNoop(t *testing.T) {
	h := newCountdownHarness(DefaultOptions())

	require.True(t, h.start())
	assert.False(t, h.start())

	assert.Equal(t, 2, h.clk.Pending(), "one tick and one decision timer")
	assert.Equal(t, 1, h.display.promptCount())
	assert.Equal(t, 1, h.display.sounds)
	assert.Equal(t, CountdownPrompting, h.countdown.State())
}

func TestCountdownTicksAndRefreshesPrompt(t *testing.T) {
	h := newCountdownHarness(DefaultOptions())
	h.start()
	assert.Equal(t, 60, h.display.lastCountdown())

	h.clk.Advance(5 * time.Second)
	assert.Equal(t, 55, h.display.lastCountdown())
	assert.Equal(t, 2, h.display.promptCount(), "prompt reissued every five ticks")

	h.clk.Advance(5 * time.Second)
	assert.Equal(t, 3, h.display.promptCount())
	assert.Equal(t, 50, h.countdown.Remaining())
}

func TestCountdownDecisionAfterBuffer(t *testing.T) {
	h := newCountdownHarness(DefaultOptions())
	h.start()

	h.clk.Advance(61 * time.Second)
	assert.Empty(t, h.decisions)

	h.clk.Advance(time.Second)
	require.Len(t, h.decisions, 1)
	assert.Equal(t, CountdownDeciding, h.countdown.State())
	assert.True(t, h.countdown.Current(h.decisions[0]))
	assert.Equal(t, 0, h.clk.Pending(), "tick stopped once deciding")
	assert.Equal(t, 0, h.countdown.Remaining())
}

func TestCountdownCancelStopsTimers(t *testing.T) {
	h := newCountdownHarness(DefaultOptions())
	h.start()
	h.clk.Advance(10 * time.Second)

	h.mu.Lock()
	assert.True(t, h.countdown.Cancel())
	assert.False(t, h.countdown.Cancel())
	h.mu.Unlock()

	assert.Equal(t, 0, h.clk.Pending())
	assert.Equal(t, CountdownIdle, h.countdown.State())

	h.clk.Advance(2 * time.Minute)
	assert.Empty(t, h.decisions)
}

func TestCountdownStaleGeneration(t *testing.T) {
	h := newCountdownHarness(DefaultOptions())
	h.start()
	h.clk.Advance(62 * time.Second)
	require.Len(t, h.decisions, 1)
	stale := h.decisions[0]

	h.mu.Lock()
	h.countdown.Cancel()
	require.True(t, h.countdown.Start())
	h.mu.Unlock()

	assert.False(t, h.countdown.Current(stale))
}

func TestCountdownWithoutAnnouncement(t *testing.T) {
	opts := DefaultOptions()
	opts.PlayAnnouncement = false
	h := newCountdownHarness(opts)
	h.start()
	assert.Equal(t, 0, h.display.sounds)
}
