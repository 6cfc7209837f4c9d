package release

import (
	"strings"

	"github.com/saaga0h/room-release/pkg/xapi"
)

// Signal identifies which telemetry input changed.
type Signal int

const (
	SignalNone Signal = iota
	SignalPresence
	SignalPeopleCount
	SignalCall
	SignalSound
	SignalPresentation
	SignalUltrasound
	SignalRoomInUse
)

func (s Signal) String() string {
	switch s {
	case SignalPresence:
		return "presence"
	case SignalPeopleCount:
		return "people_count"
	case SignalCall:
		return "call"
	case SignalSound:
		return "sound"
	case SignalPresentation:
		return "presentation"
	case SignalUltrasound:
		return "ultrasound"
	case SignalRoomInUse:
		return "room_in_use"
	default:
		return "none"
	}
}

// Status paths read for occupancy.
const (
	PathPeoplePresence     = "RoomAnalytics.PeoplePresence"
	PathPeopleCount        = "RoomAnalytics.PeopleCount.Current"
	PathSoundLevel         = "RoomAnalytics.Sound.Level.A"
	PathUltrasound         = "RoomAnalytics.UltrasoundPresence"
	PathRoomInUse          = "RoomAnalytics.RoomInUse"
	PathActiveCalls        = "SystemUnit.State.NumberOfActiveCalls"
	PathTeamsInCall        = "MicrosoftTeams.Calling.InCall"
	PathPresentationLocal  = "Conference.Presentation.LocalInstance"
	PathAvailabilityStatus = "Bookings.Availability.Status"
	PathCurrentBookingID   = "Bookings.Current.Id"
)

// MetricsSnapshot holds the latest occupancy readings for one device.
type MetricsSnapshot struct {
	PeopleCount        int  `json:"people_count"`
	PeoplePresence     bool `json:"people_presence"`
	InCall             bool `json:"in_call"`
	SoundLevel         int  `json:"sound_level"`
	Sharing            bool `json:"sharing"`
	RoomInUse          bool `json:"room_in_use"`
	UltrasoundPresence bool `json:"ultrasound_presence"`
}

// Apply updates the field addressed by an xAPI status path. mtr selects
// Teams call state over the native active call counter. It returns the
// signal that was updated, or SignalNone for unrelated paths.
func (m *MetricsSnapshot) Apply(path string, v xapi.Value, mtr bool) Signal {
	switch {
	case strings.EqualFold(path, PathPeoplePresence):
		m.PeoplePresence = v.Bool()
		return SignalPresence
	case strings.EqualFold(path, PathPeopleCount):
		m.PeopleCount = peopleCount(v)
		return SignalPeopleCount
	case strings.EqualFold(path, PathSoundLevel):
		n, ok := v.Int()
		if !ok {
			return SignalNone
		}
		m.SoundLevel = n
		return SignalSound
	case strings.EqualFold(path, PathUltrasound):
		m.UltrasoundPresence = v.Bool()
		return SignalUltrasound
	case strings.EqualFold(path, PathRoomInUse):
		m.RoomInUse = v.Bool()
		return SignalRoomInUse
	case strings.EqualFold(path, PathActiveCalls) && !mtr:
		n, _ := v.Int()
		m.InCall = n > 0
		return SignalCall
	case strings.EqualFold(path, PathTeamsInCall) && mtr:
		m.InCall = v.Bool()
		return SignalCall
	case strings.EqualFold(path, PathPresentationLocal):
		m.Sharing = sharing(v)
		return SignalPresentation
	}
	return SignalNone
}

// peopleCount clamps the -1 "not available" reading to zero.
func peopleCount(v xapi.Value) int {
	n, ok := v.Int()
	if !ok || n < 0 {
		return 0
	}
	return n
}

// sharing reports whether any local presentation instance is live.
// Feedback for a stopped instance arrives with ghost set.
func sharing(v xapi.Value) bool {
	if v.Len() == 0 {
		if v.Get("ghost").Bool() {
			return false
		}
		return v.Get("id").Exists() || v.Get("SendingMode").Exists()
	}
	for i := 0; i < v.Len(); i++ {
		if !v.Index(i).Get("ghost").Bool() {
			return true
		}
	}
	return false
}
