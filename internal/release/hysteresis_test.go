package release

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHysteresisConfirmsEmptyAfterWindow(t *testing.T) {
	h := NewHysteresisTracker(15*time.Minute, 5*time.Minute)

	assert.Equal(t, TransitionNewlyEmpty, h.Observe(t0, false))
	assert.Equal(t, StateRecentlyEmpty, h.State())

	assert.Equal(t, TransitionNone, h.Observe(t0.Add(4*time.Minute+59*time.Second), false))
	assert.False(t, h.RoomIsEmpty())

	assert.Equal(t, TransitionConfirmedEmpty, h.Observe(t0.Add(5*time.Minute), false))
	assert.True(t, h.RoomIsEmpty())
	assert.Equal(t, StateConfirmedEmpty, h.State())

	assert.Equal(t, TransitionNone, h.Observe(t0.Add(6*time.Minute), false))
	assert.Equal(t, t0, h.LastEmpty())
}

func TestHysteresisOccupancyResetsEmptiness(t *testing.T) {
	h := NewHysteresisTracker(15*time.Minute, 5*time.Minute)
	h.Observe(t0, false)
	h.Observe(t0.Add(5*time.Minute), false)
	assert.True(t, h.RoomIsEmpty())

	assert.Equal(t, TransitionNewlyOccupied, h.Observe(t0.Add(6*time.Minute), true))
	assert.False(t, h.RoomIsEmpty())
	assert.True(t, h.LastEmpty().IsZero())
	assert.Equal(t, t0.Add(6*time.Minute), h.LastFull())

	// emptiness has to build up again from scratch
	h.Observe(t0.Add(7*time.Minute), false)
	assert.Equal(t, TransitionNone, h.Observe(t0.Add(11*time.Minute), false))
	assert.Equal(t, TransitionConfirmedEmpty, h.Observe(t0.Add(12*time.Minute), false))
}

func TestHysteresisConsideredOccupiedRestamps(t *testing.T) {
	h := NewHysteresisTracker(15*time.Minute, 5*time.Minute)
	start := t0.Add(2 * time.Minute)

	h.Observe(start, true)
	assert.Equal(t, TransitionNone, h.Observe(start.Add(14*time.Minute), true))
	assert.Equal(t, start, h.LastFull())

	assert.Equal(t, TransitionConsideredOccupied, h.Observe(start.Add(15*time.Minute), true))
	assert.Equal(t, start.Add(15*time.Minute), h.LastFull())
}

func TestHysteresisStampsNeverBothSet(t *testing.T) {
	h := NewHysteresisTracker(time.Minute, time.Minute)
	readings := []bool{true, false, false, true, true, false, true, false, false, false}

	for i, occupied := range readings {
		h.Observe(t0.Add(time.Duration(i)*30*time.Second), occupied)
		assert.False(t, !h.LastFull().IsZero() && !h.LastEmpty().IsZero(), "reading %d", i)
	}
}

// roomIsEmpty holds iff the trailing unoccupied run spans the window.
func TestHysteresisEmptyIffContiguousWindow(t *testing.T) {
	window := 3 * time.Minute
	step := time.Minute
	readings := []bool{false, false, true, false, false, false, false, true, false, false, false}

	h := NewHysteresisTracker(time.Hour, window)
	var runStart time.Time
	for i, occupied := range readings {
		now := t0.Add(time.Duration(i) * step)
		h.Observe(now, occupied)

		if occupied {
			runStart = time.Time{}
		} else if runStart.IsZero() {
			runStart = now
		}
		expected := !occupied && now.Sub(runStart) >= window
		assert.Equal(t, expected, h.RoomIsEmpty(), "reading %d", i)
	}
}

func TestHysteresisCheckInAndReset(t *testing.T) {
	h := NewHysteresisTracker(15*time.Minute, 5*time.Minute)
	h.Observe(t0, false)
	h.Observe(t0.Add(5*time.Minute), false)

	h.CheckIn(t0.Add(6 * time.Minute))
	assert.False(t, h.RoomIsEmpty())
	assert.Equal(t, t0.Add(6*time.Minute), h.LastFull())
	assert.True(t, h.LastEmpty().IsZero())
	assert.Equal(t, StateOccupied, h.State())

	h.Reset()
	assert.Equal(t, StateUnknown, h.State())
	assert.True(t, h.LastFull().IsZero())
}
