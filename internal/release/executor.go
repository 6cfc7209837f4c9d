package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/room-release/internal/ghost"
	"github.com/saaga0h/room-release/pkg/clock"
	"github.com/saaga0h/room-release/pkg/notify"
)

// ErrReleaseAborted means the booking could not be re-read at decision
// time. Nothing was changed and the next evaluation retries.
var ErrReleaseAborted = errors.New("release aborted")

// Action is what a release did to the booking.
type Action string

const (
	ActionDeclined       Action = "declined"
	ActionSeriesDeclined Action = "series_declined"
	ActionShortened      Action = "shortened"
	ActionSkipped        Action = "skipped"
	ActionFailed         Action = "failed"
)

// Result is the structured record of one release.
type Result struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	System     SysInfo   `json:"system"`
	Booking    Booking   `json:"booking"`
	Action     Action    `json:"action"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Ghost      bool      `json:"ghost"`
	TestMode   bool      `json:"test_mode"`
	SeriesID   string    `json:"series_id,omitempty"`
	Strikes    int       `json:"strikes,omitempty"`
	ReleasedAt time.Time `json:"released_at"`
}

// ReleaseRequest carries what the session knows at decision time.
type ReleaseRequest struct {
	DeviceID string
	Device   Device
	System   SysInfo
	Ghost    bool
}

// GhostHandler escalates ghosted recurring bookings.
type GhostHandler interface {
	Enabled() bool
	Handle(ctx context.Context, req ghost.Request) (ghost.Outcome, error)
}

// Notifier fans a release out to notification channels.
type Notifier interface {
	Dispatch(ctx context.Context, msg notify.Message) []notify.Delivery
}

// Reporter receives every completed release.
type Reporter interface {
	Report(ctx context.Context, r Result) error
}

// Executor performs the terminal release of a booking.
type Executor struct {
	ghosts    GhostHandler
	notifier  Notifier
	reporters []Reporter
	clock     clock.Clock
	testMode  bool
	logger    *slog.Logger
}

// ExecutorParams wires an Executor. Ghosts and Notifier may be nil.
type ExecutorParams struct {
	Ghosts    GhostHandler
	Notifier  Notifier
	Reporters []Reporter
	Clock     clock.Clock
	TestMode  bool
	Logger    *slog.Logger
}

func NewExecutor(p ExecutorParams) *Executor {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Executor{
		ghosts:    p.Ghosts,
		notifier:  p.Notifier,
		reporters: p.Reporters,
		clock:     clk,
		testMode:  p.TestMode,
		logger:    p.Logger,
	}
}

// Release declines, shortens, or escalates the current booking. An error
// wrapping ErrReleaseAborted means nothing was done. Any other outcome,
// including a failed decline, is returned as a Result.
func (e *Executor) Release(ctx context.Context, req ReleaseRequest) (Result, error) {
	logger := e.logger.With("device", req.DeviceID)
	now := e.clock.Now()

	id, err := currentBookingID(ctx, req.Device)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrReleaseAborted, err)
	}
	booking, err := fetchBooking(ctx, req.Device, id, now)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrReleaseAborted, err)
	}

	result := Result{
		ID:         uuid.NewString(),
		DeviceID:   req.DeviceID,
		System:     req.System,
		Booking:    booking,
		Ghost:      req.Ghost,
		TestMode:   e.testMode,
		ReleasedAt: now,
	}

	if !e.escalate(ctx, logger, req, booking, &result) {
		e.decline(ctx, logger, req.Device, booking, &result)
	}

	logger.Info("Booking released",
		"release_id", result.ID,
		"booking", booking.ID,
		"action", result.Action,
		"success", result.Success,
		"ghost", result.Ghost,
		"message", result.Message)

	e.notify(ctx, result)
	e.report(ctx, logger, result)
	return result, nil
}

// escalate hands the booking to the ghost handler and reports whether
// it substituted for a direct decline.
func (e *Executor) escalate(ctx context.Context, logger *slog.Logger, req ReleaseRequest, b Booking, result *Result) bool {
	if e.ghosts == nil || !e.ghosts.Enabled() {
		return false
	}

	out, err := e.ghosts.Handle(ctx, ghost.Request{
		DeviceID:  req.DeviceID,
		Mailbox:   req.System.Mailbox,
		Start:     b.StartTime,
		Organizer: b.Organizer.Name(),
		Ghosted:   req.Ghost,
	})
	if err != nil {
		logger.Warn("Ghost handling failed, declining directly", "booking", b.ID, "error", err)
		return false
	}
	if !out.Handled {
		return false
	}

	result.Success = out.Success
	result.Message = out.Message
	result.SeriesID = out.SeriesID
	result.Strikes = out.Strikes
	switch {
	case !out.Success:
		result.Action = ActionFailed
	case out.Action == ghost.ActionSeriesDeclined:
		result.Action = ActionSeriesDeclined
	default:
		result.Action = ActionShortened
	}
	return true
}

func (e *Executor) decline(ctx context.Context, logger *slog.Logger, dev Device, b Booking, result *Result) {
	if e.testMode {
		result.Action = ActionSkipped
		result.Success = true
		result.Message = "Skipped (Test Mode)"
		return
	}

	_, err := dev.Command(ctx, "Bookings.Respond", map[string]any{
		"Type":      "Decline",
		"MeetingId": b.MeetingID,
	})
	if err != nil {
		logger.Error("Failed to decline booking", "booking", b.ID, "meeting", b.MeetingID, "error", err)
		result.Action = ActionFailed
		result.Message = fmt.Sprintf("Failed to decline booking: %v", err)
		return
	}
	result.Action = ActionDeclined
	result.Success = true
	result.Message = "Booking declined"
}

func (e *Executor) notify(ctx context.Context, r Result) {
	if e.notifier == nil {
		return
	}
	e.notifier.Dispatch(ctx, notify.Message{
		ID:         r.ID,
		DeviceID:   r.DeviceID,
		SystemName: r.System.Name,
		Serial:     r.System.Serial,
		Platform:   r.System.Platform,
		Organizer:  r.Booking.Organizer.Name(),
		Title:      r.Booking.Title,
		StartTime:  r.Booking.StartTime,
		Action:     string(r.Action),
		Status:     r.Message,
		Success:    r.Success,
		Ghost:      r.Ghost,
		TestMode:   r.TestMode,
	})
}

func (e *Executor) report(ctx context.Context, logger *slog.Logger, r Result) {
	for _, rep := range e.reporters {
		if err := rep.Report(ctx, r); err != nil {
			logger.Warn("Failed to report release", "release_id", r.ID, "error", err)
		}
	}
}
