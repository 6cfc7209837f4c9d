package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/saaga0h/room-release/pkg/clock"
	"github.com/saaga0h/room-release/pkg/xapi"
)

// ErrDeviceNotAllowed rejects devices outside the configured list.
var ErrDeviceNotAllowed = errors.New("device not in configured device list")

// Event paths routed by the manager.
const (
	EventBookingStart     = "Bookings.Start"
	EventBookingExtension = "Bookings.ExtensionRequested"
	EventBookingEnd       = "Bookings.End"
	EventPromptResponse   = "UserInterface.Message.Prompt.Response"
	EventInteraction      = "UserInterface.Extensions"
	EventBoot             = "BootEvent"
	StatusSystemState     = "SystemUnit.State.System"
)

// DisplayFactory builds the UI channel for an enrolled device.
type DisplayFactory func(ctx context.Context, dev Device, sys SysInfo) Display

// ManagerParams wires a Manager.
type ManagerParams struct {
	Devices  DeviceSource
	Options  Options
	Clock    clock.Clock
	Releaser Releaser
	// Mailboxes maps device ids to room mailboxes for ghost tracking.
	Mailboxes map[string]string
	// Allowed limits enrollment to these device ids; empty allows any.
	Allowed []string
	Display DisplayFactory
	Logger  *slog.Logger
}

// Manager keeps one Session per enrolled device and routes device
// telemetry and events to it.
type Manager struct {
	devices   DeviceSource
	opts      Options
	clock     clock.Clock
	releaser  Releaser
	mailboxes map[string]string
	allowed   map[string]bool
	display   DisplayFactory
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	rejected map[string]bool
}

func NewManager(ctx context.Context, p ManagerParams) *Manager {
	ctx, cancel := context.WithCancel(ctx)

	allowed := make(map[string]bool, len(p.Allowed))
	for _, id := range p.Allowed {
		allowed[id] = true
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	display := p.Display
	if display == nil {
		display = func(ctx context.Context, dev Device, sys SysInfo) Display {
			return NewQueuedDisplay(ctx, dev, p.Options.FeedbackID, sys.MoveAlert, p.Logger)
		}
	}

	return &Manager{
		devices:   p.Devices,
		opts:      p.Options,
		clock:     clk,
		releaser:  p.Releaser,
		mailboxes: p.Mailboxes,
		allowed:   allowed,
		display:   display,
		logger:    p.Logger,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
		rejected:  make(map[string]bool),
	}
}

// Enroll configures a device and creates its session. An existing
// session is returned as is. Incompatible devices fail with
// ErrUnsupportedDevice and are logged only the first time.
func (m *Manager) Enroll(ctx context.Context, deviceID string) (*Session, error) {
	if s, ok := m.Session(deviceID); ok {
		return s, nil
	}
	if len(m.allowed) > 0 && !m.allowed[deviceID] {
		return nil, ErrDeviceNotAllowed
	}

	dev := m.devices(deviceID)
	sys, err := configureDevice(ctx, dev, m.logger)
	if err != nil {
		if errors.Is(err, ErrUnsupportedDevice) {
			m.mu.Lock()
			first := !m.rejected[deviceID]
			m.rejected[deviceID] = true
			m.mu.Unlock()
			if first {
				m.logger.Error("Device not supported, skipping", "device", deviceID, "error", err)
			}
		}
		return nil, fmt.Errorf("failed to enroll %s: %w", deviceID, err)
	}
	sys.Mailbox = m.mailboxes[deviceID]

	m.mu.Lock()
	if s, ok := m.sessions[deviceID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	delete(m.rejected, deviceID)
	s := NewSession(m.ctx, SessionParams{
		DeviceID: deviceID,
		Device:   dev,
		System:   sys,
		Options:  m.opts,
		Clock:    m.clock,
		Display:  m.display(m.ctx, dev, sys),
		Releaser: m.releaser,
		Logger:   m.logger,
	})
	m.sessions[deviceID] = s
	m.mu.Unlock()

	m.logger.Info("Device enrolled",
		"device", deviceID,
		"name", sys.Name,
		"platform", sys.Platform,
		"version", sys.Version,
		"mtr", sys.MTR,
		"mailbox", sys.Mailbox != "")

	s.ClearAlerts()
	if id, err := currentBookingID(ctx, dev); err == nil {
		s.HandleBookingStart(id)
	} else if !errors.Is(err, ErrNoBooking) {
		m.logger.Warn("Failed to read current booking", "device", deviceID, "error", err)
	}
	return s, nil
}

// Remove closes and forgets a session.
func (m *Manager) Remove(deviceID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	delete(m.sessions, deviceID)
	m.mu.Unlock()

	if ok {
		s.Close()
		m.logger.Info("Device removed", "device", deviceID)
	}
	return ok
}

func (m *Manager) Session(deviceID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[deviceID]
	return s, ok
}

// Sessions returns the number of enrolled devices.
func (m *Manager) Sessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Statuses returns a snapshot of every session ordered by device id.
func (m *Manager) Statuses() []SessionStatus {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// HandleStatus routes a status change.
func (m *Manager) HandleStatus(ctx context.Context, deviceID, path string, v xapi.Value) {
	if strings.EqualFold(path, StatusSystemState) {
		if v.String() == "Initialized" {
			m.logger.Info("Device initialized, enrolling", "device", deviceID)
			if _, err := m.Enroll(ctx, deviceID); err != nil && !errors.Is(err, ErrUnsupportedDevice) {
				m.logger.Warn("Enrollment failed", "device", deviceID, "error", err)
			}
		}
		return
	}

	s, ok := m.Session(deviceID)
	if !ok {
		return
	}
	s.HandleStatus(path, v)
}

// HandleEvent routes a device event.
func (m *Manager) HandleEvent(ctx context.Context, deviceID, path string, v xapi.Value) {
	switch {
	case strings.EqualFold(path, EventBoot):
		m.Remove(deviceID)
		return
	case strings.EqualFold(path, EventBookingStart):
		s, ok := m.Session(deviceID)
		if !ok {
			// Enroll picks up the current booking.
			if _, err := m.Enroll(ctx, deviceID); err != nil && !errors.Is(err, ErrUnsupportedDevice) && !errors.Is(err, ErrDeviceNotAllowed) {
				m.logger.Warn("Enrollment on booking start failed", "device", deviceID, "error", err)
			}
			return
		}
		s.HandleBookingStart(v.Get("Id").String())
		return
	}

	s, ok := m.Session(deviceID)
	if !ok {
		return
	}

	switch {
	case strings.EqualFold(path, EventBookingExtension):
		s.HandleBookingExtension()
	case strings.EqualFold(path, EventBookingEnd):
		s.HandleBookingEnd()
	case strings.EqualFold(path, EventPromptResponse):
		s.HandlePromptResponse(v.Get("FeedbackId").String(), v.Get("OptionId").String())
	case hasPrefixFold(path, EventInteraction):
		s.HandleInteraction()
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.cancel()
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
