package ghost

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/saaga0h/room-release/pkg/clock"
)

// Pruner drops strike entries that have outlived every reset window.
// It implements cron.Job.
type Pruner struct {
	store  Store
	clock  clock.Clock
	maxAge time.Duration
	logger *slog.Logger
}

func NewPruner(store Store, clk clock.Clock, maxAge time.Duration, logger *slog.Logger) *Pruner {
	return &Pruner{store: store, clock: clk, maxAge: maxAge, logger: logger}
}

// Schedule registers the pruner on c with a standard five field spec.
func (p *Pruner) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddJob(spec, p)
	if err != nil {
		return 0, fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	p.logger.Info("Ghost store pruning scheduled", "schedule", spec, "max_age", p.maxAge)
	return id, nil
}

// Run implements cron.Job.
func (p *Pruner) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := p.Prune(ctx)
	if err != nil {
		p.logger.Error("Ghost store prune failed", "error", err)
		return
	}
	p.logger.Info("Ghost store pruned", "removed", removed)
}

// Prune removes stale entries and returns how many were dropped.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	devices, err := p.store.Devices(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list devices: %w", err)
	}

	now := p.clock.Now()
	removed := 0
	for _, deviceID := range devices {
		entries, err := p.store.Read(ctx, deviceID)
		if err != nil {
			p.logger.Warn("Failed to read ghost entries", "device", deviceID, "error", err)
			continue
		}

		stale := 0
		for seriesID, e := range entries {
			if now.Sub(e.Updated) > p.maxAge {
				delete(entries, seriesID)
				stale++
			}
		}
		if stale == 0 {
			continue
		}
		if err := p.store.Write(ctx, deviceID, entries); err != nil {
			p.logger.Warn("Failed to write pruned ghost entries", "device", deviceID, "error", err)
			continue
		}
		removed += stale
	}
	return removed, nil
}
