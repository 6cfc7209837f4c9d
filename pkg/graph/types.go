package graph

import (
	"fmt"
	"time"
)

const dateTimeLayout = "2006-01-02T15:04:05.9999999"

// DateTimeTimeZone is Graph's zoned timestamp.
type DateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// NewDateTime renders t in UTC.
func NewDateTime(t time.Time) DateTimeTimeZone {
	return DateTimeTimeZone{DateTime: t.UTC().Format(dateTimeLayout), TimeZone: "UTC"}
}

// Time parses the timestamp. Unknown zones fall back to UTC.
func (d DateTimeTimeZone) Time() (time.Time, error) {
	loc := time.UTC
	if d.TimeZone != "" && d.TimeZone != "UTC" {
		if l, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(dateTimeLayout, d.DateTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid Graph date %q: %w", d.DateTime, err)
	}
	return t, nil
}

type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// RecurrencePattern types: daily, weekly, absoluteMonthly,
// relativeMonthly, absoluteYearly, relativeYearly.
type RecurrencePattern struct {
	Type     string `json:"type"`
	Interval int    `json:"interval"`
}

type Recurrence struct {
	Pattern RecurrencePattern `json:"pattern"`
}

// Event types as reported in Event.Type.
const (
	EventSingle       = "singleInstance"
	EventOccurrence   = "occurrence"
	EventException    = "exception"
	EventSeriesMaster = "seriesMaster"
)

// Event is the subset of a Graph calendar event used for ghost handling.
type Event struct {
	ID             string           `json:"id"`
	Subject        string           `json:"subject"`
	Type           string           `json:"type"`
	SeriesMasterID string           `json:"seriesMasterId,omitempty"`
	Start          DateTimeTimeZone `json:"start"`
	End            DateTimeTimeZone `json:"end"`
	Organizer      Recipient        `json:"organizer"`
	Recurrence     *Recurrence      `json:"recurrence,omitempty"`
	IsCancelled    bool             `json:"isCancelled"`
}

// InSeries reports whether the event belongs to a recurring series.
func (e Event) InSeries() bool {
	return e.SeriesMasterID != "" || e.Type == EventSeriesMaster
}

// OrganizerName returns the organizer display name or address.
func (e Event) OrganizerName() string {
	if e.Organizer.EmailAddress.Name != "" {
		return e.Organizer.EmailAddress.Name
	}
	return e.Organizer.EmailAddress.Address
}

// PatternType returns the recurrence pattern type, or "" for none.
func (e Event) PatternType() string {
	if e.Recurrence == nil {
		return ""
	}
	return e.Recurrence.Pattern.Type
}
