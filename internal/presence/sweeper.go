package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
)

// Sweeper periodically removes entries whose heartbeat is older than maxAge.
// It covers crashed clients and network partitions that never send an
// explicit disconnect. A failed sweep is logged and the loop keeps running.
type Sweeper struct {
	registry Registry
	interval time.Duration
	maxAge   time.Duration
	clk      clock.Clock
	logger   *slog.Logger
}

func NewSweeper(registry Registry, interval, maxAge time.Duration, clk clock.Clock, logger *slog.Logger) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		maxAge:   maxAge,
		clk:      clk,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clk.Ticker(s.interval)
	defer ticker.Stop()

	s.logger.Info("presence sweeper started", "interval", s.interval, "max_age", s.maxAge)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("presence sweeper stopped")
			return
		case <-ticker.C:
			removed, err := s.registry.Sweep(ctx, s.maxAge)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("presence sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				observability.RecordPresenceSwept(ctx, removed)
				s.logger.Debug("presence sweep removed dead entries", "removed", removed)
			}
		}
	}
}
