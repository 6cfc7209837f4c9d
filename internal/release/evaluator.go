package release

// Evaluator turns a snapshot into an occupied verdict. Exactly one
// implementation is selected per configuration.
type Evaluator interface {
	Occupied(m MetricsSnapshot) bool

	// Considers reports whether a change to s can alter the verdict.
	Considers(s Signal) bool

	Mode() string
}

// NewEvaluator selects the evaluator variant for opts.
func NewEvaluator(opts Options) Evaluator {
	if opts.UseRoomInUse {
		return consolidatedEvaluator{}
	}
	return legacyEvaluator{opts: opts}
}

// legacyEvaluator combines the individual detectors.
type legacyEvaluator struct {
	opts Options
}

func (e legacyEvaluator) Occupied(m MetricsSnapshot) bool {
	presence := m.PeoplePresence
	if e.opts.RequireUltrasound {
		presence = presence && m.UltrasoundPresence
	}

	return presence ||
		(e.opts.DetectActiveCalls && m.InCall) ||
		(e.opts.DetectSound && m.SoundLevel > e.opts.SoundLevel) ||
		(e.opts.DetectPresentation && m.Sharing) ||
		(e.opts.DetectUltrasound && m.UltrasoundPresence)
}

func (e legacyEvaluator) Considers(s Signal) bool {
	switch s {
	case SignalPresence:
		return true
	case SignalCall:
		return e.opts.DetectActiveCalls
	case SignalSound:
		return e.opts.DetectSound
	case SignalPresentation:
		return e.opts.DetectPresentation
	case SignalUltrasound:
		return e.opts.DetectUltrasound || e.opts.RequireUltrasound
	}
	return false
}

func (legacyEvaluator) Mode() string { return "legacy" }

// consolidatedEvaluator trusts the device's RoomInUse signal alone.
type consolidatedEvaluator struct{}

func (consolidatedEvaluator) Occupied(m MetricsSnapshot) bool {
	return m.RoomInUse
}

func (consolidatedEvaluator) Considers(s Signal) bool {
	return s == SignalRoomInUse
}

func (consolidatedEvaluator) Mode() string { return "room_in_use" }
