package release

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/saaga0h/room-release/pkg/clock"
	"github.com/saaga0h/room-release/pkg/xapi"
)

// Releaser performs the terminal release. *Executor implements it.
type Releaser interface {
	Release(ctx context.Context, req ReleaseRequest) (Result, error)
}

// SessionParams wires a Session.
type SessionParams struct {
	DeviceID string
	Device   Device
	System   SysInfo
	Options  Options
	Clock    clock.Clock
	Display  Display
	Releaser Releaser
	Logger   *slog.Logger
}

// Session is the release state machine for one enrolled device. All
// state is guarded by mu; device and calendar I/O happens with mu
// released. epoch is bumped by every reset so continuations that
// resume after I/O can tell they belong to a finished booking.
type Session struct {
	deviceID  string
	shortID   string
	device    Device
	system    SysInfo
	opts      Options
	eval      Evaluator
	collector *Collector
	clock     clock.Clock
	display   Display
	releaser  Releaser
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	epoch         uint64
	closed        bool
	bookingActive bool
	checking      bool // listener should check
	booking       Booking
	metrics       MetricsSnapshot
	tracker       HysteresisTracker
	initialDelay  time.Time
	ghost         bool
	ghostTimer    clock.Timer
	poll          clock.Timer
	confirming    bool
	releasing     bool
	countdown     *Countdown
}

// NewSession creates an idle session. I/O issued by the session is
// bound to ctx and stops with Close.
func NewSession(ctx context.Context, p SessionParams) *Session {
	ctx, cancel := context.WithCancel(ctx)
	short := shortDeviceID(p.DeviceID)

	s := &Session{
		deviceID:  p.DeviceID,
		shortID:   short,
		device:    p.Device,
		system:    p.System,
		opts:      p.Options,
		eval:      NewEvaluator(p.Options),
		clock:     p.Clock,
		display:   p.Display,
		releaser:  p.Releaser,
		logger:    p.Logger.With("device", short, "system", p.System.Name),
		ctx:       ctx,
		cancel:    cancel,
		tracker:   NewHysteresisTracker(p.Options.ConsideredOccupied, p.Options.EmptyBeforeRelease),
		collector: NewCollector(p.Device, p.Options, p.System.MTR, p.Logger),
	}
	s.countdown = NewCountdown(&s.mu, p.Clock, p.Display, p.Options, s.finalCheck)
	return s
}

// shortDeviceID is the trailing part of a device id used in logs.
func shortDeviceID(id string) string {
	id = strings.TrimRight(id, "=")
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

func (s *Session) DeviceID() string { return s.deviceID }
func (s *Session) System() SysInfo  { return s.system }

// HandleBookingStart validates the booking and starts monitoring it. An
// empty id reads the device's current booking.
func (s *Session) HandleBookingStart(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.countdown.Active() {
		s.display.Clear()
	}
	s.resetBookingLocked()
	epoch := s.epoch
	s.mu.Unlock()

	booking, err := validateBooking(s.ctx, s.device, id, s.opts, s.clock.Now())
	if err != nil {
		s.logRejected("start", id, err)
		return
	}

	s.mu.Lock()
	prev := s.metrics
	s.mu.Unlock()
	m := s.collector.Collect(s.ctx, prev)

	s.mu.Lock()
	if epoch != s.epoch || s.closed {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	s.booking = booking
	s.bookingActive = true
	s.checking = true
	s.ghost = true
	s.initialDelay = booking.StartTime.Add(s.opts.InitialReleaseDelay)
	s.metrics = m

	occupied := s.eval.Occupied(m)
	if occupied {
		delay := s.opts.ghostResetDelay()
		s.ghostTimer = s.clock.AfterFunc(delay, func() { s.onGhostReset(epoch) })
		s.logger.Info("Room already occupied at booking start, deferring ghost reset", "delay", delay)
	}

	s.logger.Info("Monitoring booking",
		"booking", booking.ID,
		"title", booking.Title,
		"organizer", booking.Organizer.Name(),
		"start", booking.StartTime,
		"initial_delay", s.initialDelay,
		"occupied", occupied,
		"evaluator", s.eval.Mode())

	ready := s.evaluateLocked(now, "booking_start")
	if ready {
		s.confirming = true
	}
	s.schedulePollLocked()
	s.mu.Unlock()

	if ready {
		s.confirmAndStart(epoch)
	}
}

// HandleBookingExtension re-validates the booking after an extension.
// Bookings whose checks were suspended are left alone.
func (s *Session) HandleBookingExtension() {
	s.mu.Lock()
	if !s.bookingActive || !s.checking {
		s.mu.Unlock()
		s.logger.Debug("Ignoring booking extension, checks not active")
		return
	}
	epoch := s.epoch
	s.mu.Unlock()

	booking, err := validateBooking(s.ctx, s.device, "", s.opts, s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	if err != nil {
		if bookingShapeError(err) {
			s.logRejected("extension", s.booking.ID, err)
			if s.countdown.Active() {
				s.display.Clear()
			}
			s.resetBookingLocked()
			return
		}
		s.logger.Warn("Failed to re-validate extended booking", "error", err)
		return
	}

	s.booking = booking
	clock.Stop(s.poll)
	s.poll = nil
	s.schedulePollLocked()
	s.logger.Info("Booking extended", "booking", booking.ID, "seconds_until_end", booking.SecondsUntilEnd)
}

// HandleBookingEnd stops monitoring and clears any prompt.
func (s *Session) HandleBookingEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countdown.Active() {
		s.display.Clear()
	}
	if s.bookingActive {
		s.logger.Info("Booking ended", "booking", s.booking.ID)
	}
	s.resetBookingLocked()
}

// HandlePromptResponse handles a check-in from the prompt. It reports
// whether the response was taken as a check-in. Responses without an
// active booking, or after the final check has begun, are ignored.
func (s *Session) HandlePromptResponse(feedbackID, optionID string) bool {
	if feedbackID != s.opts.FeedbackID || optionID != "1" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bookingActive || s.countdown.State() == CountdownDeciding {
		return false
	}
	now := s.clock.Now()
	s.clearAlertsLocked(now)
	s.ghost = false
	clock.Stop(s.ghostTimer)
	s.ghostTimer = nil
	s.logger.Info("Check-in received", "booking", s.booking.ID)

	if s.opts.ButtonStopChecks {
		s.stopChecksLocked("check-in")
	}
	return true
}

// HandleInteraction treats touch panel activity as occupancy.
func (s *Session) HandleInteraction() {
	if !s.opts.DetectInteraction {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bookingActive || !s.checking {
		return
	}
	now := s.clock.Now()
	s.logger.Debug("User interaction detected")
	s.occupiedLocked(now, s.tracker.Observe(now, true))
}

// HandleStatus applies one telemetry update.
func (s *Session) HandleStatus(path string, v xapi.Value) {
	s.mu.Lock()

	sig := s.metrics.Apply(path, v, s.system.MTR)
	if sig == SignalNone || !s.bookingActive || !s.checking {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()

	if sig == SignalPeopleCount {
		if s.metrics.PeopleCount > 0 && s.countdown.State() == CountdownPrompting {
			s.logger.Info("People detected during countdown, treating as check-in", "people_count", s.metrics.PeopleCount)
			s.clearAlertsLocked(now)
		}
		s.mu.Unlock()
		return
	}
	if !s.eval.Considers(sig) {
		s.mu.Unlock()
		return
	}

	ready := s.evaluateLocked(now, sig.String())
	epoch := s.epoch
	if ready {
		s.confirming = true
	}
	s.mu.Unlock()

	if ready {
		s.confirmAndStart(epoch)
	}
}

// ClearAlerts removes any prompt left on the device, for example after a
// restart of the agent.
func (s *Session) ClearAlerts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countdown.Cancel()
	s.display.Clear()
}

// Close cancels all timers and in-flight I/O and releases the display.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.countdown.Active() {
		s.display.Clear()
	}
	s.resetBookingLocked()
	s.mu.Unlock()
	s.cancel()
	s.display.Close()
}

// SessionStatus is a read-only view of a session.
type SessionStatus struct {
	DeviceID      string          `json:"device_id"`
	System        SysInfo         `json:"system"`
	BookingActive bool            `json:"booking_active"`
	Checking      bool            `json:"checking"`
	BookingID     string          `json:"booking_id,omitempty"`
	Room          RoomState       `json:"room"`
	RoomIsEmpty   bool            `json:"room_is_empty"`
	Countdown     string          `json:"countdown"`
	Remaining     int             `json:"remaining,omitempty"`
	Ghost         bool            `json:"ghost"`
	Metrics       MetricsSnapshot `json:"metrics"`
	LastFull      time.Time       `json:"last_full"`
	LastEmpty     time.Time       `json:"last_empty"`
	InitialDelay  time.Time       `json:"initial_delay"`
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionStatus{
		DeviceID:      s.deviceID,
		System:        s.system,
		BookingActive: s.bookingActive,
		Checking:      s.checking,
		BookingID:     s.booking.ID,
		Room:          s.tracker.State(),
		RoomIsEmpty:   s.tracker.RoomIsEmpty(),
		Countdown:     s.countdown.State().String(),
		Ghost:         s.ghost,
		Metrics:       s.metrics,
		LastFull:      s.tracker.LastFull(),
		LastEmpty:     s.tracker.LastEmpty(),
		InitialDelay:  s.initialDelay,
	}
	if s.countdown.Active() {
		st.Remaining = s.countdown.Remaining()
	}
	return st
}

// evaluateLocked feeds the current snapshot to the tracker and reports
// whether the pre-countdown confirmation should run.
func (s *Session) evaluateLocked(now time.Time, reason string) bool {
	occupied := s.eval.Occupied(s.metrics)
	tr := s.tracker.Observe(now, occupied)

	s.logger.Debug("Occupancy evaluated",
		"reason", reason,
		"occupied", occupied,
		"transition", tr,
		"state", s.tracker.State(),
		"people_count", s.metrics.PeopleCount,
		"presence", s.metrics.PeoplePresence,
		"in_call", s.metrics.InCall,
		"sound_level", s.metrics.SoundLevel,
		"sharing", s.metrics.Sharing,
		"ultrasound", s.metrics.UltrasoundPresence,
		"room_in_use", s.metrics.RoomInUse)

	if occupied {
		s.occupiedLocked(now, tr)
		return false
	}
	if tr == TransitionConfirmedEmpty {
		s.logger.Info("Room confirmed empty", "empty_since", s.tracker.LastEmpty())
	}
	return s.readyLocked(now)
}

// occupiedLocked applies the side effects of an occupied observation.
func (s *Session) occupiedLocked(now time.Time, tr Transition) {
	if s.ghost && s.ghostTimer == nil {
		s.ghost = false
		s.logger.Info("Occupancy detected, booking is not a ghost")
	}
	if s.countdown.State() == CountdownPrompting {
		s.logger.Info("Occupancy detected during countdown, treating as check-in")
		s.clearAlertsLocked(now)
	}
	if tr == TransitionConsideredOccupied && s.opts.OccupiedStopChecks {
		s.stopChecksLocked("considered occupied")
	}
}

func (s *Session) readyLocked(now time.Time) bool {
	return s.bookingActive &&
		s.checking &&
		s.tracker.RoomIsEmpty() &&
		!s.countdown.Active() &&
		!s.confirming &&
		!s.releasing &&
		!now.Before(s.initialDelay)
}

// confirmAndStart re-polls once before prompting so a stale snapshot
// cannot start a countdown in an occupied room.
func (s *Session) confirmAndStart(epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	prev := s.metrics
	s.mu.Unlock()

	m := s.collector.Collect(s.ctx, prev)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.confirming = false
	s.metrics = m
	now := s.clock.Now()

	if s.eval.Occupied(m) {
		s.logger.Info("Occupancy detected on confirmation, countdown not started")
		s.evaluateLocked(now, "confirm")
		return
	}
	if !s.readyLocked(now) {
		return
	}
	if s.countdown.Start() {
		s.logger.Info("Room unoccupied, starting release countdown",
			"booking", s.booking.ID,
			"empty_since", s.tracker.LastEmpty(),
			"prompt_duration", s.opts.PromptDuration)
	}
}

// finalCheck runs when the decision timer fires.
func (s *Session) finalCheck(gen uint64) {
	s.mu.Lock()
	if s.closed || !s.countdown.Current(gen) {
		s.mu.Unlock()
		return
	}
	epoch := s.epoch
	prev := s.metrics
	s.mu.Unlock()

	m := s.collector.Collect(s.ctx, prev)

	s.mu.Lock()
	if epoch != s.epoch || !s.countdown.Current(gen) {
		s.mu.Unlock()
		return
	}
	s.metrics = m
	now := s.clock.Now()

	if s.eval.Occupied(m) {
		s.logger.Info("Occupancy detected at final check, release aborted")
		s.countdown.Cancel()
		s.display.Clear()
		s.evaluateLocked(now, "final_check")
		s.mu.Unlock()
		return
	}

	s.display.Clear()
	s.releasing = true
	req := ReleaseRequest{
		DeviceID: s.deviceID,
		Device:   s.device,
		System:   s.system,
		Ghost:    s.ghost,
	}
	s.mu.Unlock()

	_, err := s.releaser.Release(s.ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releasing = false
	if epoch != s.epoch {
		return
	}
	if err != nil {
		s.logger.Warn("Release not completed, will retry at next evaluation", "error", err)
		s.countdown.Cancel()
		s.schedulePollLocked()
		return
	}
	s.resetBookingLocked()
}

func (s *Session) onPoll(epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.poll = nil
	if !s.checking {
		s.mu.Unlock()
		return
	}
	prev := s.metrics
	s.mu.Unlock()

	m := s.collector.Collect(s.ctx, prev)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.metrics = m
	ready := s.evaluateLocked(s.clock.Now(), "poll")
	if ready {
		s.confirming = true
	}
	s.schedulePollLocked()
	s.mu.Unlock()

	if ready {
		s.confirmAndStart(epoch)
	}
}

func (s *Session) onGhostReset(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return
	}
	s.ghostTimer = nil
	if s.ghost && s.eval.Occupied(s.metrics) {
		s.ghost = false
		s.logger.Info("Room still occupied after booking start, booking is not a ghost")
	}
}

func (s *Session) schedulePollLocked() {
	if !s.bookingActive || !s.checking || s.poll != nil {
		return
	}
	epoch := s.epoch
	s.poll = s.clock.AfterFunc(s.opts.PeriodicInterval+s.opts.PollJitter, func() { s.onPoll(epoch) })
}

// clearAlertsLocked is the check-in path: cancel the countdown, clear
// the UI and restamp the room as occupied.
func (s *Session) clearAlertsLocked(now time.Time) {
	s.countdown.Cancel()
	s.display.Clear()
	s.tracker.CheckIn(now)
}

// stopChecksLocked suspends periodic checks for the rest of the booking.
func (s *Session) stopChecksLocked(reason string) {
	if !s.checking {
		return
	}
	s.checking = false
	clock.Stop(s.poll)
	s.poll = nil
	s.logger.Info("Suspending checks for this booking", "reason", reason, "booking", s.booking.ID)
}

// cancelPendingLocked stops every timer owned by the booking and
// invalidates in-flight continuations. Every reset path goes through it.
func (s *Session) cancelPendingLocked() {
	clock.Stop(s.poll)
	s.poll = nil
	clock.Stop(s.ghostTimer)
	s.ghostTimer = nil
	s.countdown.Cancel()
	s.epoch++
}

func (s *Session) resetBookingLocked() {
	s.cancelPendingLocked()
	s.bookingActive = false
	s.checking = false
	s.booking = Booking{}
	s.tracker.Reset()
	s.initialDelay = time.Time{}
	s.ghost = false
	s.confirming = false
}

func (s *Session) logRejected(event, id string, err error) {
	switch {
	case errors.Is(err, ErrTooLong):
		s.logger.Info("Booking exceeds ignore threshold, not checking", "event", event, "booking", id, "reason", err)
	case errors.Is(err, ErrNoBooking):
		s.logger.Info("No current booking", "event", event)
	case bookingShapeError(err):
		s.logger.Warn("Booking is not checkable", "event", event, "booking", id, "reason", err)
	default:
		s.logger.Warn("Failed to validate booking", "event", event, "booking", id, "error", err)
	}
}

// bookingShapeError reports whether err makes a booking permanently
// unsuitable for checks.
func bookingShapeError(err error) bool {
	return errors.Is(err, ErrTooLong) ||
		errors.Is(err, ErrNoEndTime) ||
		errors.Is(err, ErrUnparsableDuration) ||
		errors.Is(err, ErrNoBooking)
}
