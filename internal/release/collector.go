package release

import (
	"context"
	"errors"
	"log/slog"

	"github.com/saaga0h/room-release/pkg/xapi"
)

// Collector polls the occupancy status paths the evaluator depends on.
type Collector struct {
	device Device
	paths  []string
	mtr    bool
	logger *slog.Logger
}

func NewCollector(device Device, opts Options, mtr bool, logger *slog.Logger) *Collector {
	return &Collector{
		device: device,
		paths:  metricPaths(opts, mtr),
		mtr:    mtr,
		logger: logger,
	}
}

func metricPaths(opts Options, mtr bool) []string {
	if opts.UseRoomInUse {
		return []string{PathRoomInUse, PathPeopleCount}
	}

	paths := []string{PathPeoplePresence, PathPeopleCount}
	if opts.DetectActiveCalls {
		if mtr {
			paths = append(paths, PathTeamsInCall)
		} else {
			paths = append(paths, PathActiveCalls)
		}
	}
	if opts.DetectSound {
		paths = append(paths, PathSoundLevel)
	}
	if opts.DetectUltrasound || opts.RequireUltrasound {
		paths = append(paths, PathUltrasound)
	}
	if opts.DetectPresentation {
		paths = append(paths, PathPresentationLocal)
	}
	return paths
}

// Collect refreshes prev from the device. Paths that fail keep their
// previous reading.
func (c *Collector) Collect(ctx context.Context, prev MetricsSnapshot) MetricsSnapshot {
	m := prev
	for _, path := range c.paths {
		v, err := c.device.Status(ctx, path)
		if err != nil {
			if errors.Is(err, xapi.ErrNotFound) {
				if path == PathPresentationLocal {
					m.Sharing = false
					continue
				}
				c.logger.Debug("Status path not available", "path", path)
				continue
			}
			c.logger.Warn("Failed to read occupancy metric", "path", path, "error", err)
			continue
		}
		m.Apply(path, v, c.mtr)
	}
	return m
}
