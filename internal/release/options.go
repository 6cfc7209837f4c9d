package release

import (
	"log/slog"
	"time"

	"github.com/saaga0h/room-release/pkg/config"
)

// Options is the immutable release behaviour shared by every session.
type Options struct {
	// Detection
	DetectSound        bool
	DetectUltrasound   bool
	RequireUltrasound  bool
	DetectActiveCalls  bool
	DetectInteraction  bool
	DetectPresentation bool
	UseRoomInUse       bool
	SoundLevel         int

	// Stop-check rules
	ButtonStopChecks   bool
	OccupiedStopChecks bool

	// Hysteresis and booking windows
	ConsideredOccupied  time.Duration
	EmptyBeforeRelease  time.Duration
	InitialReleaseDelay time.Duration
	IgnoreLongerThan    time.Duration
	PeriodicInterval    time.Duration
	PollJitter          time.Duration

	// Countdown
	PromptDuration   time.Duration
	TickInterval     time.Duration
	PromptRefresh    int // ticks between full prompt reissues
	DecisionBuffer   time.Duration
	PlayAnnouncement bool
	FeedbackID       string

	// Ghost reset timer armed when a booking starts occupied
	GhostResetCap    time.Duration
	GhostResetMargin time.Duration

	TestMode bool
}

// DefaultOptions mirrors config.NewConfig.
func DefaultOptions() Options {
	return NewOptions(config.NewConfig(), nil)
}

// NewOptions builds Options from the loaded configuration. A nil logger
// suppresses the adjustment warnings.
func NewOptions(cfg *config.Config, logger *slog.Logger) Options {
	o := Options{
		DetectSound:        cfg.UseSound,
		DetectUltrasound:   cfg.UseUltrasound,
		RequireUltrasound:  cfg.RequireUltrasound,
		DetectActiveCalls:  cfg.UseActiveCall,
		DetectInteraction:  cfg.UseInteraction,
		DetectPresentation: cfg.UsePresentation,
		UseRoomInUse:       cfg.UseRoomInUse,
		SoundLevel:         cfg.SoundLevel,

		ButtonStopChecks:   cfg.ButtonStopChecks,
		OccupiedStopChecks: cfg.OccupiedStopChecks,

		ConsideredOccupied:  time.Duration(cfg.ConsideredOccupiedMin) * time.Minute,
		EmptyBeforeRelease:  time.Duration(cfg.EmptyBeforeReleaseMin) * time.Minute,
		InitialReleaseDelay: time.Duration(cfg.InitialReleaseDelayMin) * time.Minute,
		IgnoreLongerThan:    time.Duration(cfg.IgnoreLongerThanHours * float64(time.Hour)),
		PeriodicInterval:    time.Duration(cfg.PeriodicIntervalMin) * time.Minute,
		PollJitter:          time.Second,

		PromptDuration:   time.Duration(cfg.PromptDurationSec) * time.Second,
		TickInterval:     time.Second,
		PromptRefresh:    5,
		DecisionBuffer:   2 * time.Second,
		PlayAnnouncement: cfg.PlayAnnouncement,
		FeedbackID:       cfg.FeedbackID,

		GhostResetCap:    4 * time.Minute,
		GhostResetMargin: 30 * time.Second,

		TestMode: cfg.TestMode,
	}

	if o.RequireUltrasound && !o.DetectUltrasound {
		if logger != nil {
			logger.Warn("Require ultrasound enabled without ultrasound detection, enabling detection")
		}
		o.DetectUltrasound = true
	}
	return o
}

// ghostResetDelay is how long a pre-existing occupant is ignored for the
// ghost flag of a new booking.
func (o Options) ghostResetDelay() time.Duration {
	d := o.InitialReleaseDelay - o.GhostResetMargin
	if d > o.GhostResetCap {
		d = o.GhostResetCap
	}
	if d < 0 {
		d = 0
	}
	return d
}
