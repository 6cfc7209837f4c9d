// Package clock abstracts wall-clock time and one-shot timers so that
// booking timers can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by the release agent.
// Production code uses Real(); tests use Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It returns false if the
	// call already fired or was stopped.
	Stop() bool
}

// Stop stops t if it is non-nil. Convenience for optional timer fields.
func Stop(t Timer) {
	if t != nil {
		t.Stop()
	}
}
