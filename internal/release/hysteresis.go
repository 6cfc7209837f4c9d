package release

import "time"

// Transition is the outcome of one HysteresisTracker observation.
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionNewlyOccupied: first occupied reading after emptiness or reset.
	TransitionNewlyOccupied
	// TransitionConsideredOccupied: occupied continuously for ConsideredOccupied.
	TransitionConsideredOccupied
	// TransitionNewlyEmpty: first unoccupied reading.
	TransitionNewlyEmpty
	// TransitionConfirmedEmpty: unoccupied continuously for EmptyBeforeRelease.
	TransitionConfirmedEmpty
)

func (t Transition) String() string {
	switch t {
	case TransitionNewlyOccupied:
		return "newly_occupied"
	case TransitionConsideredOccupied:
		return "considered_occupied"
	case TransitionNewlyEmpty:
		return "newly_empty"
	case TransitionConfirmedEmpty:
		return "confirmed_empty"
	default:
		return "none"
	}
}

// RoomState is the coarse occupancy state derived by the tracker.
type RoomState string

const (
	StateUnknown        RoomState = "unknown"
	StateOccupied       RoomState = "occupied"
	StateRecentlyEmpty  RoomState = "recently_empty"
	StateConfirmedEmpty RoomState = "confirmed_empty"
)

// HysteresisTracker debounces evaluator verdicts. lastFull and lastEmpty
// are never both set.
type HysteresisTracker struct {
	considered time.Duration
	emptyAfter time.Duration

	lastFull    time.Time
	lastEmpty   time.Time
	roomIsEmpty bool
}

func NewHysteresisTracker(considered, emptyAfter time.Duration) HysteresisTracker {
	return HysteresisTracker{considered: considered, emptyAfter: emptyAfter}
}

// Observe records one verdict taken at now.
func (h *HysteresisTracker) Observe(now time.Time, occupied bool) Transition {
	if occupied {
		h.lastEmpty = time.Time{}
		h.roomIsEmpty = false
		if h.lastFull.IsZero() {
			h.lastFull = now
			return TransitionNewlyOccupied
		}
		if now.Sub(h.lastFull) >= h.considered {
			h.lastFull = now
			return TransitionConsideredOccupied
		}
		return TransitionNone
	}

	h.lastFull = time.Time{}
	if h.lastEmpty.IsZero() {
		h.lastEmpty = now
		if h.emptyAfter <= 0 {
			h.roomIsEmpty = true
			return TransitionConfirmedEmpty
		}
		return TransitionNewlyEmpty
	}
	if !h.roomIsEmpty && now.Sub(h.lastEmpty) >= h.emptyAfter {
		h.roomIsEmpty = true
		return TransitionConfirmedEmpty
	}
	return TransitionNone
}

// CheckIn treats an explicit check-in as a fresh occupied stamp.
func (h *HysteresisTracker) CheckIn(now time.Time) {
	h.lastFull = now
	h.lastEmpty = time.Time{}
	h.roomIsEmpty = false
}

// Reset clears all stamps.
func (h *HysteresisTracker) Reset() {
	h.lastFull = time.Time{}
	h.lastEmpty = time.Time{}
	h.roomIsEmpty = false
}

func (h *HysteresisTracker) RoomIsEmpty() bool    { return h.roomIsEmpty }
func (h *HysteresisTracker) LastFull() time.Time  { return h.lastFull }
func (h *HysteresisTracker) LastEmpty() time.Time { return h.lastEmpty }

// State reports the coarse room state.
func (h *HysteresisTracker) State() RoomState {
	switch {
	case h.roomIsEmpty:
		return StateConfirmedEmpty
	case !h.lastEmpty.IsZero():
		return StateRecentlyEmpty
	case !h.lastFull.IsZero():
		return StateOccupied
	default:
		return StateUnknown
	}
}
