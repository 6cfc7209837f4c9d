// Package notify delivers release notifications to Webex spaces and
// webhooks.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Message describes one release attempt.
type Message struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	SystemName string    `json:"system_name"`
	Serial     string    `json:"serial"`
	Platform   string    `json:"platform"`
	Organizer  string    `json:"organizer"`
	Title      string    `json:"title,omitempty"`
	StartTime  time.Time `json:"start_time"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Success    bool      `json:"success"`
	Ghost      bool      `json:"ghost"`
	TestMode   bool      `json:"test_mode"`
}

// Channel is one notification target.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Delivery is the outcome of sending to one channel.
type Delivery struct {
	Channel string
	Err     error
}

// Delivered reports whether the channel accepted the message.
func (d Delivery) Delivered() bool {
	return d.Err == nil
}

// Dispatcher fans a message out to every configured channel. A failing
// channel does not affect the others.
type Dispatcher struct {
	channels []Channel
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, logger: logger}
}

// Enabled reports whether any channel is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.channels) > 0
}

// Dispatch sends msg to all channels concurrently and returns one
// Delivery per channel, in channel order.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) []Delivery {
	deliveries := make([]Delivery, len(d.channels))

	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			err := ch.Send(ctx, msg)
			deliveries[i] = Delivery{Channel: ch.Name(), Err: err}
			if err != nil {
				d.logger.Error("Failed to send notification", "channel", ch.Name(), "device", msg.DeviceID, "error", err)
				return
			}
			d.logger.Debug("Notification sent", "channel", ch.Name(), "device", msg.DeviceID)
		}(i, ch)
	}
	wg.Wait()

	return deliveries
}
