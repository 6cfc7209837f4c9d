// Package history persists release results to Postgres.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/room-release/internal/release"
	"github.com/saaga0h/room-release/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS release_history (
	id          UUID PRIMARY KEY,
	device_id   TEXT NOT NULL,
	system_name TEXT NOT NULL DEFAULT '',
	booking_id  TEXT NOT NULL DEFAULT '',
	meeting_id  TEXT NOT NULL DEFAULT '',
	organizer   TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	start_time  TIMESTAMPTZ,
	action      TEXT NOT NULL,
	success     BOOLEAN NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	ghost       BOOLEAN NOT NULL DEFAULT FALSE,
	test_mode   BOOLEAN NOT NULL DEFAULT FALSE,
	series_id   TEXT NOT NULL DEFAULT '',
	strikes     INTEGER NOT NULL DEFAULT 0,
	released_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS release_history_device_idx ON release_history (device_id, released_at DESC);
`

const insertRelease = `
INSERT INTO release_history (
	id, device_id, system_name, booking_id, meeting_id, organizer, title, start_time,
	action, success, message, ghost, test_mode, series_id, strikes, released_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO NOTHING`

const selectRecent = `
SELECT id, device_id, action, success, message, ghost, released_at
FROM release_history
ORDER BY released_at DESC
LIMIT $1`

const selectRecentForDevice = `
SELECT id, device_id, action, success, message, ghost, released_at
FROM release_history
WHERE device_id = $1
ORDER BY released_at DESC
LIMIT $2`

// Entry is one stored release.
type Entry struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Action     string    `json:"action"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Ghost      bool      `json:"ghost"`
	ReleasedAt time.Time `json:"released_at"`
}

// Recorder implements release.Reporter.
type Recorder struct {
	db     postgres.Client
	logger *slog.Logger
}

func NewRecorder(db postgres.Client, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// EnsureSchema creates the history table if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create release history schema: %w", err)
	}
	return nil
}

// Report stores one release.
func (r *Recorder) Report(ctx context.Context, res release.Result) error {
	var start interface{}
	if !res.Booking.StartTime.IsZero() {
		start = res.Booking.StartTime.UTC()
	}

	_, err := r.db.Exec(ctx, insertRelease,
		res.ID,
		res.DeviceID,
		res.System.Name,
		res.Booking.ID,
		res.Booking.MeetingID,
		res.Booking.Organizer.Name(),
		res.Booking.Title,
		start,
		string(res.Action),
		res.Success,
		res.Message,
		res.Ghost,
		res.TestMode,
		res.SeriesID,
		res.Strikes,
		res.ReleasedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record release %s: %w", res.ID, err)
	}

	r.logger.Debug("Release recorded", "release_id", res.ID, "device", res.DeviceID)
	return nil
}

// Recent returns the latest releases, newest first. An empty deviceID
// covers all devices.
func (r *Recorder) Recent(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if deviceID == "" {
		rows, err = r.db.Query(ctx, selectRecent, limit)
	} else {
		rows, err = r.db.Query(ctx, selectRecentForDevice, deviceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query release history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Action, &e.Success, &e.Message, &e.Ghost, &e.ReleasedAt); err != nil {
			return nil, fmt.Errorf("failed to scan release history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
