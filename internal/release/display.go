package release

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// drainTimeout bounds the commands sent after Close.
const drainTimeout = 5 * time.Second

// Prompt content shown on the device.
const (
	PromptTitle  = "Unoccupied Room"
	PromptText   = "Please Check-In below to retain this Room Booking."
	PromptOption = "Check-In"
)

// CountdownText is the on-screen line for remaining seconds.
func CountdownText(remaining int) string {
	return fmt.Sprintf("Unoccupied Room Alert! It will be released in %d seconds.<br>Please use Touch Panel to retain booking.", remaining)
}

// Display issues UI commands to a device. Calls must not block; they are
// made while the session lock is held.
type Display interface {
	ShowPrompt()
	ShowCountdown(remaining int)
	PlayAnnouncement()
	// Clear removes the prompt and countdown line and stops any sound.
	Clear()
	// Close delivers what was already issued and releases the display.
	Close()
}

// QueuedDisplay sends UI commands in order from a single goroutine.
type QueuedDisplay struct {
	device     Device
	feedbackID string
	moveAlert  bool
	queue      chan uiCommand
	done       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
}

type uiCommand struct {
	name string
	args map[string]any
}

// NewQueuedDisplay starts the sender goroutine, which exits with ctx or
// after Close.
// moveAlert raises the countdown line above the bottom bar on desk and
// board platforms.
func NewQueuedDisplay(ctx context.Context, device Device, feedbackID string, moveAlert bool, logger *slog.Logger) *QueuedDisplay {
	d := &QueuedDisplay{
		device:     device,
		feedbackID: feedbackID,
		moveAlert:  moveAlert,
		queue:      make(chan uiCommand, 64),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
	go d.run(ctx)
	return d
}

func (d *QueuedDisplay) run(ctx context.Context) {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			d.drain(ctx)
			return
		case cmd := <-d.queue:
			d.send(ctx, cmd)
		}
	}
}

// drain sends the commands queued before Close. The owner's context is
// usually cancelled right after, so the sends get their own deadline.
func (d *QueuedDisplay) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case cmd := <-d.queue:
			d.send(ctx, cmd)
		default:
			return
		}
	}
}

func (d *QueuedDisplay) send(ctx context.Context, cmd uiCommand) {
	if _, err := d.device.Command(ctx, cmd.name, cmd.args); err != nil {
		d.logger.Warn("Failed to send UI command", "command", cmd.name, "error", err)
	}
}

// Close stops the sender once the queued commands are sent. Commands
// issued afterwards are dropped.
func (d *QueuedDisplay) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *QueuedDisplay) enqueue(name string, args map[string]any) {
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.queue <- uiCommand{name: name, args: args}:
	default:
		d.logger.Warn("UI command queue full, dropping command", "command", name)
	}
}

func (d *QueuedDisplay) ShowPrompt() {
	d.enqueue("UserInterface.Message.Prompt.Display", map[string]any{
		"Title":      PromptTitle,
		"Text":       PromptText,
		"FeedbackId": d.feedbackID,
		"Option.1":   PromptOption,
	})
}

func (d *QueuedDisplay) ShowCountdown(remaining int) {
	args := map[string]any{
		"Text":     CountdownText(remaining),
		"Duration": 0,
	}
	if d.moveAlert {
		args["X"] = 5000
		args["Y"] = 2000
	}
	d.enqueue("UserInterface.Message.TextLine.Display", args)
}

func (d *QueuedDisplay) PlayAnnouncement() {
	d.enqueue("Audio.Sound.Play", map[string]any{"Loop": "Off", "Sound": "Announcement"})
}

func (d *QueuedDisplay) Clear() {
	d.enqueue("UserInterface.Message.Prompt.Clear", map[string]any{"FeedbackId": d.feedbackID})
	d.enqueue("UserInterface.Message.TextLine.Clear", nil)
	d.enqueue("Audio.Sound.Stop", nil)
}
