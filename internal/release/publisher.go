package release

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/room-release/pkg/mqtt"
)

// ContextPublisher publishes every release as a context message so other
// automation can react to a room being freed.
type ContextPublisher struct {
	mqtt   mqtt.Client
	logger *slog.Logger
}

func NewContextPublisher(client mqtt.Client, logger *slog.Logger) *ContextPublisher {
	return &ContextPublisher{mqtt: client, logger: logger}
}

// Report implements Reporter.
func (p *ContextPublisher) Report(ctx context.Context, r Result) error {
	msg := map[string]interface{}{
		"source":     "room-release",
		"type":       "release",
		"release_id": r.ID,
		"device_id":  r.DeviceID,
		"system":     r.System.Name,
		"action":     r.Action,
		"success":    r.Success,
		"message":    r.Message,
		"ghost":      r.Ghost,
		"test_mode":  r.TestMode,
		"booking_id": r.Booking.ID,
		"organizer":  r.Booking.Organizer.Name(),
		"start_time": r.Booking.StartTime.UTC().Format(time.RFC3339),
		"timestamp":  r.ReleasedAt.UTC().Format(time.RFC3339),
	}
	if r.SeriesID != "" {
		msg["series_id"] = r.SeriesID
		msg["strikes"] = r.Strikes
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal release context: %w", err)
	}

	topic := mqtt.ReleaseContextTopic(r.DeviceID)
	if err := p.mqtt.Publish(topic, 0, false, payload); err != nil {
		return fmt.Errorf("failed to publish release context to %s: %w", topic, err)
	}

	p.logger.Debug("Published release context", "topic", topic)
	return nil
}
