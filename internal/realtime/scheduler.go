package realtime

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
)

// PresenceSource is the slice of the presence registry the scheduler reads.
type PresenceSource interface {
	CountActive(ctx context.Context, organizationID string, window time.Duration) (int64, error)
	ActiveByOrganization(ctx context.Context, window time.Duration) (map[string]int64, error)
}

// SnapshotSink receives the snapshots a tick produces. The gateway hub is
// the production sink.
type SnapshotSink interface {
	PresenceOrganizations() []string
	HasGlobalPresenceWatcher() bool
	BroadcastPresence(organizationID string, snap domain.PresenceSnapshot)
	BroadcastGlobalPresence(snap domain.GlobalPresenceSnapshot)
}

// Scheduler pushes presence snapshots to subscribed dashboards on a fixed
// interval. Only organizations with at least one subscriber are counted, so
// an idle deployment costs nothing per tick.
type Scheduler struct {
	registry PresenceSource
	sink     SnapshotSink
	interval time.Duration
	window   time.Duration
	clk      clock.Clock
	logger   *slog.Logger
}

func NewScheduler(registry PresenceSource, sink SnapshotSink, interval, window time.Duration, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		registry: registry,
		sink:     sink,
		interval: interval,
		window:   window,
		clk:      clk,
		logger:   logger,
	}
}

// Run broadcasts until the context is cancelled. A failed tick is logged and
// skipped; the loop never stops on registry errors.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clk.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clk.Now().UTC()
	failed := false

	for _, organizationID := range s.sink.PresenceOrganizations() {
		count, err := s.registry.CountActive(ctx, organizationID, s.window)
		if err != nil {
			failed = true
			s.logger.Warn("presence snapshot skipped",
				"organization_id", organizationID,
				"error", err)
			continue
		}
		s.sink.BroadcastPresence(organizationID, domain.PresenceSnapshot{
			OrganizationID: organizationID,
			TotalUsers:     count,
			Timestamp:      now,
		})
	}

	if s.sink.HasGlobalPresenceWatcher() {
		counts, err := s.registry.ActiveByOrganization(ctx, s.window)
		if err != nil {
			failed = true
			s.logger.Warn("global presence snapshot skipped", "error", err)
		} else {
			s.sink.BroadcastGlobalPresence(buildGlobalSnapshot(counts, now))
		}
	}

	if failed {
		observability.RecordBroadcastTick(ctx, "error")
		return
	}
	observability.RecordBroadcastTick(ctx, "success")
}

// buildGlobalSnapshot orders the per-organization breakdown by active count
// descending, organization id ascending on ties.
func buildGlobalSnapshot(counts map[string]int64, at time.Time) domain.GlobalPresenceSnapshot {
	orgs := make([]domain.OrganizationPresence, 0, len(counts))
	var total int64
	for organizationID, n := range counts {
		orgs = append(orgs, domain.OrganizationPresence{OrganizationID: organizationID, ActiveUsers: n})
		total += n
	}
	sort.Slice(orgs, func(i, j int) bool {
		if orgs[i].ActiveUsers != orgs[j].ActiveUsers {
			return orgs[i].ActiveUsers > orgs[j].ActiveUsers
		}
		return orgs[i].OrganizationID < orgs[j].OrganizationID
	})
	return domain.GlobalPresenceSnapshot{
		TotalUsers:    total,
		Organizations: orgs,
		Timestamp:     at,
	}
}
