package release

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/saaga0h/room-release/pkg/xapi"
)

var (
	// ErrNoBooking means the device reported no current booking.
	ErrNoBooking = errors.New("no current booking")
	// ErrNoEndTime means the calendar has no definite end for the booking.
	ErrNoEndTime = errors.New("booking without end time")
	// ErrUnparsableDuration means elapsed or remaining time was missing.
	ErrUnparsableDuration = errors.New("booking duration unavailable")
	// ErrTooLong means the booking exceeds the ignore threshold.
	ErrTooLong = errors.New("booking longer than ignore threshold")
)

// Organizer of a booking.
type Organizer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// Name returns "First Last", or the email when no name is known.
func (o Organizer) Name() string {
	name := strings.TrimSpace(o.FirstName + " " + o.LastName)
	if name == "" {
		return o.Email
	}
	return name
}

// Booking is the device's view of the current calendar booking.
type Booking struct {
	ID                string    `json:"id"`
	MeetingID         string    `json:"meeting_id"`
	Title             string    `json:"title,omitempty"`
	Organizer         Organizer `json:"organizer"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time,omitempty"`
	SecondsSinceStart int       `json:"seconds_since_start"`
	SecondsUntilEnd   int       `json:"seconds_until_end"`

	timesKnown bool
}

// Duration is elapsed plus remaining time as reported by the device.
func (b Booking) Duration() (time.Duration, error) {
	if !b.timesKnown {
		return 0, ErrUnparsableDuration
	}
	return time.Duration(b.SecondsSinceStart+b.SecondsUntilEnd) * time.Second, nil
}

// parseBooking reads a Bookings.Get result. now anchors the start time
// when the device omits it.
func parseBooking(id string, result xapi.Value, now time.Time) (Booking, error) {
	bv := result.Get("Booking")
	if !bv.Exists() {
		return Booking{}, fmt.Errorf("booking %s: %w", id, ErrNoBooking)
	}

	b := Booking{
		ID:        id,
		MeetingID: bv.Get("MeetingId").String(),
		Title:     bv.Get("Title").String(),
		Organizer: Organizer{
			FirstName: bv.Get("Organizer.FirstName").String(),
			LastName:  bv.Get("Organizer.LastName").String(),
			Email:     bv.Get("Organizer.Email").String(),
		},
	}
	if bid := bv.Get("Id").String(); bid != "" {
		b.ID = bid
	}

	since, okSince := bv.Get("Time.SecondsSinceStart").Int()
	until, okUntil := bv.Get("Time.SecondsUntilEnd").Int()
	if okSince && okUntil {
		b.SecondsSinceStart = since
		b.SecondsUntilEnd = until
		b.timesKnown = true
	}

	if t, err := time.Parse(time.RFC3339, bv.Get("Time.StartTime").String()); err == nil {
		b.StartTime = t
	} else if okSince {
		b.StartTime = now.Add(-time.Duration(since) * time.Second)
	} else {
		b.StartTime = now
	}
	if t, err := time.Parse(time.RFC3339, bv.Get("Time.EndTime").String()); err == nil {
		b.EndTime = t
	} else if okUntil {
		b.EndTime = now.Add(time.Duration(until) * time.Second)
	}
	return b, nil
}

// currentBookingID reads Bookings.Current.Id.
func currentBookingID(ctx context.Context, dev Device) (string, error) {
	v, err := dev.Status(ctx, PathCurrentBookingID)
	if err != nil {
		if errors.Is(err, xapi.ErrNotFound) {
			return "", ErrNoBooking
		}
		return "", fmt.Errorf("failed to read current booking id: %w", err)
	}
	id := v.String()
	if id == "" {
		return "", ErrNoBooking
	}
	return id, nil
}

// fetchBooking runs Bookings.Get for id.
func fetchBooking(ctx context.Context, dev Device, id string, now time.Time) (Booking, error) {
	result, err := dev.Command(ctx, "Bookings.Get", map[string]any{"Id": id})
	if err != nil {
		return Booking{}, fmt.Errorf("failed to get booking %s: %w", id, err)
	}
	return parseBooking(id, result, now)
}

// validateBooking checks availability and duration for a booking start
// or extension. An empty id reads the current booking.
func validateBooking(ctx context.Context, dev Device, id string, opts Options, now time.Time) (Booking, error) {
	avail, err := dev.Status(ctx, PathAvailabilityStatus)
	if err != nil && !errors.Is(err, xapi.ErrNotFound) {
		return Booking{}, fmt.Errorf("failed to read availability: %w", err)
	}
	if avail.String() != "BookedUntil" {
		return Booking{}, ErrNoEndTime
	}

	if id == "" {
		if id, err = currentBookingID(ctx, dev); err != nil {
			return Booking{}, err
		}
	}

	b, err := fetchBooking(ctx, dev, id, now)
	if err != nil {
		return Booking{}, err
	}

	d, err := b.Duration()
	if err != nil {
		return b, err
	}
	if d >= opts.IgnoreLongerThan {
		return b, fmt.Errorf("%w: %.2fh", ErrTooLong, d.Hours())
	}
	return b, nil
}
