// Package ghost escalates repeatedly unattended recurring bookings from
// shortening single instances to declining the whole series.
package ghost

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/room-release/pkg/clock"
	"github.com/saaga0h/room-release/pkg/graph"
)

// Calendar is the room mailbox calendar.
type Calendar interface {
	FindEvent(ctx context.Context, mailbox string, start time.Time) (graph.Event, error)
	GetEvent(ctx context.Context, mailbox, id string) (graph.Event, error)
	Instances(ctx context.Context, mailbox, seriesID string, from, to time.Time) ([]graph.Event, error)
	Decline(ctx context.Context, mailbox, id, comment string) error
	UpdateEnd(ctx context.Context, mailbox, id string, end time.Time) error
}

// Request describes a booking being released.
type Request struct {
	DeviceID  string
	Mailbox   string
	Start     time.Time
	Organizer string
	Ghosted   bool
}

// Action taken in place of a direct decline.
type Action string

const (
	ActionNone           Action = ""
	ActionShortened      Action = "shortened"
	ActionSeriesDeclined Action = "series_declined"
)

// Outcome of Handle. When Handled is false the caller declines directly.
type Outcome struct {
	Handled  bool
	Action   Action
	Success  bool
	Message  string
	SeriesID string
	Strikes  int
}

// Tracker counts strikes per series and substitutes for direct declines.
type Tracker struct {
	calendar Calendar
	store    Store
	clock    clock.Clock
	opts     Options
	logger   *slog.Logger
}

func NewTracker(calendar Calendar, store Store, clk clock.Clock, opts Options, logger *slog.Logger) *Tracker {
	return &Tracker{
		calendar: calendar,
		store:    store,
		clock:    clk,
		opts:     opts,
		logger:   logger,
	}
}

// Enabled reports whether ghost handling is active.
func (t *Tracker) Enabled() bool {
	return t.opts.Enabled
}

// Handle processes a released booking. Errors mean nothing was changed
// and the caller should fall back to a direct decline.
func (t *Tracker) Handle(ctx context.Context, req Request) (Outcome, error) {
	if !t.opts.Enabled || (!req.Ghosted && !t.opts.EndBooking) {
		return Outcome{}, nil
	}
	if req.Mailbox == "" {
		t.logger.Debug("No room mailbox configured, skipping ghost tracking", "device", req.DeviceID)
		return Outcome{}, nil
	}

	ev, err := t.calendar.FindEvent(ctx, req.Mailbox, req.Start)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to locate calendar event: %w", err)
	}

	if !ev.InSeries() || !req.Ghosted {
		if t.opts.EndBooking {
			return t.shorten(ctx, req, ev, 0), nil
		}
		return Outcome{}, nil
	}
	return t.strike(ctx, req, ev)
}

func (t *Tracker) strike(ctx context.Context, req Request, ev graph.Event) (Outcome, error) {
	masterID := ev.SeriesMasterID
	if masterID == "" {
		masterID = ev.ID
	}
	master, err := t.calendar.GetEvent(ctx, req.Mailbox, masterID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to get series master: %w", err)
	}

	entries, err := t.store.Read(ctx, req.DeviceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read ghost strikes: %w", err)
	}

	now := t.clock.Now()
	entry := entries[master.ID]
	window := t.opts.ResetWindow(master.PatternType())
	if !entry.Updated.IsZero() && now.Sub(entry.Updated) > window {
		t.logger.Info("Ghost strike window elapsed, resetting count",
			"device", req.DeviceID, "series", master.ID, "previous_count", entry.Count, "window", window)
		entry.Count = 0
		entry.Strikes = nil
	}

	entry.Count++
	entry.Strikes = append(entry.Strikes, now)
	entry.Updated = now
	entry.Organizer = master.OrganizerName()
	entry.Subject = master.Subject
	entries[master.ID] = entry
	t.persist(ctx, req.DeviceID, entries)

	t.logger.Info("Ghost booking strike recorded",
		"device", req.DeviceID, "series", master.ID, "count", entry.Count, "threshold", t.opts.Strikes)

	if entry.Count < t.opts.Strikes {
		out := t.shorten(ctx, req, ev, entry.Count)
		out.SeriesID = master.ID
		return out, nil
	}

	out := t.declineSeries(ctx, req, master, now)
	out.Strikes = entry.Count
	if out.Success {
		entry.Count = 0
		entry.Strikes = nil
		entries[master.ID] = entry
		t.persist(ctx, req.DeviceID, entries)
	}
	return out, nil
}

// declineSeries declines near-term exceptions first so they disappear
// even if the master decline fails, then the master.
func (t *Tracker) declineSeries(ctx context.Context, req Request, master graph.Event, now time.Time) Outcome {
	out := Outcome{Handled: true, Action: ActionSeriesDeclined, SeriesID: master.ID}

	if t.opts.TestMode {
		out.Success = true
		out.Message = "Series decline skipped (Test Mode)"
		return out
	}

	instances, err := t.calendar.Instances(ctx, req.Mailbox, master.ID, now, now.Add(t.opts.Lookahead))
	if err != nil {
		t.logger.Warn("Failed to list series instances", "series", master.ID, "error", err)
	}
	for _, inst := range instances {
		if inst.Type != graph.EventException || inst.IsCancelled {
			continue
		}
		if err := t.calendar.Decline(ctx, req.Mailbox, inst.ID, t.opts.DeclineComment); err != nil {
			t.logger.Warn("Failed to decline series exception", "series", master.ID, "event", inst.ID, "error", err)
		}
	}

	if err := t.calendar.Decline(ctx, req.Mailbox, master.ID, t.opts.DeclineComment); err != nil {
		out.Message = fmt.Sprintf("Failed to decline recurring series: %v", err)
		return out
	}

	out.Success = true
	out.Message = fmt.Sprintf("Recurring series declined after %d unattended bookings", t.opts.Strikes)
	return out
}

// shorten ends the instance now, rounded to five minutes.
func (t *Tracker) shorten(ctx context.Context, req Request, ev graph.Event, count int) Outcome {
	out := Outcome{Handled: true, Action: ActionShortened, Strikes: count}

	start, err := ev.Start.Time()
	if err != nil {
		start = req.Start
	}
	end := t.clock.Now().Round(5 * time.Minute)
	if !end.After(start) {
		end = start.Add(5 * time.Minute)
	}

	if t.opts.TestMode {
		out.Success = true
		out.Message = "Booking shorten skipped (Test Mode)"
		return out
	}

	if err := t.calendar.UpdateEnd(ctx, req.Mailbox, ev.ID, end); err != nil {
		out.Message = fmt.Sprintf("Failed to shorten booking: %v", err)
		return out
	}

	out.Success = true
	out.Message = fmt.Sprintf("Booking ended at %s", end.UTC().Format("15:04 MST"))
	if count > 0 {
		out.Message += fmt.Sprintf(" (strike %d of %d)", count, t.opts.Strikes)
	}
	return out
}

func (t *Tracker) persist(ctx context.Context, deviceID string, entries map[string]Entry) {
	if err := t.store.Write(ctx, deviceID, entries); err != nil {
		t.logger.Error("Failed to persist ghost strikes", "device", deviceID, "error", err)
	}
}
