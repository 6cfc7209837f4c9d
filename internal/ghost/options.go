package ghost

import (
	"strings"
	"time"

	"github.com/saaga0h/room-release/pkg/config"
)

// Options controls ghost booking escalation.
type Options struct {
	Enabled    bool
	Strikes    int
	EndBooking bool
	Lookahead  time.Duration
	TestMode   bool

	// Reset windows by recurrence frequency.
	ResetDaily   time.Duration
	ResetWeekly  time.Duration
	ResetMonthly time.Duration
	ResetYearly  time.Duration

	DeclineComment string
}

func NewOptions(cfg *config.Config) Options {
	day := 24 * time.Hour
	return Options{
		Enabled:        cfg.GraphEnabled,
		Strikes:        cfg.GraphStrikes,
		EndBooking:     cfg.GraphEndBooking,
		Lookahead:      time.Duration(cfg.GraphLookaheadDays) * day,
		TestMode:       cfg.TestMode,
		ResetDaily:     time.Duration(cfg.GraphResetDaily) * day,
		ResetWeekly:    time.Duration(cfg.GraphResetWeekly) * day,
		ResetMonthly:   time.Duration(cfg.GraphResetMonthly) * day,
		ResetYearly:    time.Duration(cfg.GraphResetYearly) * day,
		DeclineComment: "This recurring booking was released after repeatedly going unattended.",
	}
}

// ResetWindow returns how long a series may go without a strike before
// its count starts over. Unknown patterns use the weekly window.
func (o Options) ResetWindow(pattern string) time.Duration {
	p := strings.ToLower(pattern)
	switch {
	case p == "daily":
		return o.ResetDaily
	case p == "weekly":
		return o.ResetWeekly
	case strings.HasSuffix(p, "monthly"):
		return o.ResetMonthly
	case strings.HasSuffix(p, "yearly"):
		return o.ResetYearly
	default:
		return o.ResetWeekly
	}
}

// MaxWindow is the longest reset window; older entries are stale.
func (o Options) MaxWindow() time.Duration {
	max := o.ResetDaily
	for _, w := range []time.Duration{o.ResetWeekly, o.ResetMonthly, o.ResetYearly} {
		if w > max {
			max = w
		}
	}
	return max
}
