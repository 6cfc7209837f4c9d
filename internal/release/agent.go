package release

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/saaga0h/room-release/pkg/mqtt"
	"github.com/saaga0h/room-release/pkg/xapi"
)

const deviceQueueSize = 256

// Agent connects the manager to the device feedback bridge on MQTT.
// Messages for one device are handled in arrival order on a dedicated
// goroutine so slow device I/O never blocks the MQTT client.
type Agent struct {
	mqtt    mqtt.Client
	manager *Manager
	cron    *cron.Cron
	devices []string
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[string]chan func(context.Context)
	wg     sync.WaitGroup
}

// NewAgent creates an agent. devices are enrolled at start; c may be nil.
func NewAgent(mqttClient mqtt.Client, manager *Manager, c *cron.Cron, devices []string, logger *slog.Logger) *Agent {
	return &Agent{
		mqtt:    mqttClient,
		manager: manager,
		cron:    c,
		devices: devices,
		logger:  logger,
		queues:  make(map[string]chan func(context.Context)),
	}
}

// Start connects, subscribes and enrolls the configured devices, then
// blocks until ctx is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.logger.Info("Starting release agent", "devices", len(a.devices))

	if err := a.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	if err := a.mqtt.Subscribe(mqtt.TopicDeviceStatus, 0, a.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", mqtt.TopicDeviceStatus, err)
	}
	if err := a.mqtt.Subscribe(mqtt.TopicDeviceEvent, 0, a.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", mqtt.TopicDeviceEvent, err)
	}

	for _, id := range a.devices {
		deviceID := id
		a.dispatch(deviceID, func(ctx context.Context) {
			if _, err := a.manager.Enroll(ctx, deviceID); err != nil {
				a.logger.Warn("Device not enrolled", "device", deviceID, "error", err)
			}
		})
	}

	if a.cron != nil {
		a.cron.Start()
	}

	a.logger.Info("Release agent started and ready")

	<-ctx.Done()
	a.logger.Info("Release agent stopping")
	return nil
}

// Stop gracefully stops the agent
func (a *Agent) Stop() error {
	a.logger.Info("Stopping release agent")

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	a.mqtt.Disconnect()

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.wg.Wait()

	a.manager.Close()

	a.logger.Info("Release agent stopped")
	return nil
}

// handleMessage parses roomrelease/xapi/{device}/{status|event}/{path}
func (a *Agent) handleMessage(msg mqtt.Message) {
	deviceID, kind, path, ok := mqtt.ParseDeviceTopic(msg.Topic())
	if !ok {
		a.logger.Warn("Invalid device topic format", "topic", msg.Topic())
		return
	}
	v := xapi.ParseValue(msg.Payload())

	a.logger.Debug("Received device feedback", "device", deviceID, "kind", kind, "path", path)

	a.dispatch(deviceID, func(ctx context.Context) {
		if kind == mqtt.KindEvent {
			a.manager.HandleEvent(ctx, deviceID, path, v)
			return
		}
		a.manager.HandleStatus(ctx, deviceID, path, v)
	})
}

// dispatch queues fn on the device's worker.
func (a *Agent) dispatch(deviceID string, fn func(context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx == nil || a.ctx.Err() != nil {
		return
	}
	q, ok := a.queues[deviceID]
	if !ok {
		q = make(chan func(context.Context), deviceQueueSize)
		a.queues[deviceID] = q
		a.wg.Add(1)
		go a.work(a.ctx, q)
	}

	select {
	case q <- fn:
	default:
		a.logger.Warn("Device queue full, dropping message", "device", deviceID)
	}
}

func (a *Agent) work(ctx context.Context, q chan func(context.Context)) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-q:
			fn(ctx)
		}
	}
}
