package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/repository"
)

// GeoAggregator turns raw session geo records into the dashboard views.
type GeoAggregator interface {
	// AggregateByCountry returns per-country session counts for one
	// organization, heaviest country first, with percentage shares that
	// sum to 100 within rounding error.
	AggregateByCountry(ctx context.Context, organizationID string, since time.Time) ([]domain.CountryStat, error)

	// AggregateByRegion is AggregateByCountry narrowed to the regions of
	// a single country.
	AggregateByRegion(ctx context.Context, organizationID, countryCode string, since time.Time) ([]domain.RegionStat, error)

	// HeatmapPoints returns session density buckets on a fixed-precision
	// coordinate grid. Unknown locations are excluded so they never pile
	// up at (0, 0).
	HeatmapPoints(ctx context.Context, organizationID string, since time.Time) ([]domain.HeatmapPoint, error)

	// RecentSessions lists the raw records behind the aggregates, newest
	// first, for the drill-down table.
	RecentSessions(ctx context.Context, organizationID string, since time.Time, page repository.PageRequest) (repository.PageResult[domain.SessionGeoRecord], error)
}

// SessionGeoAggregator implements GeoAggregator over the session geo
// repository.
type SessionGeoAggregator struct {
	repo      repository.SessionGeoRepository
	precision int
	maxPoints int
}

func NewSessionGeoAggregator(repo repository.SessionGeoRepository, heatmapPrecision, heatmapMaxPoints int) *SessionGeoAggregator {
	return &SessionGeoAggregator{
		repo:      repo,
		precision: heatmapPrecision,
		maxPoints: heatmapMaxPoints,
	}
}

func (a *SessionGeoAggregator) AggregateByCountry(ctx context.Context, organizationID string, since time.Time) ([]domain.CountryStat, error) {
	rows, err := a.repo.CountByCountry(ctx, organizationID, since)
	if err != nil {
		observability.RecordGeoQueryEvent(ctx, "countries", "error")
		return nil, fmt.Errorf("aggregate countries: %w", err)
	}

	var total int64
	for _, row := range rows {
		total += row.Count
	}

	stats := make([]domain.CountryStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, domain.CountryStat{
			CountryCode: row.CountryCode,
			Country:     row.Country,
			Count:       row.Count,
			Percentage:  percentage(row.Count, total),
		})
	}

	observability.RecordGeoQueryEvent(ctx, "countries", "success")
	return stats, nil
}

func (a *SessionGeoAggregator) AggregateByRegion(ctx context.Context, organizationID, countryCode string, since time.Time) ([]domain.RegionStat, error) {
	rows, err := a.repo.CountByRegion(ctx, organizationID, countryCode, since)
	if err != nil {
		observability.RecordGeoQueryEvent(ctx, "regions", "error")
		return nil, fmt.Errorf("aggregate regions: %w", err)
	}

	var total int64
	for _, row := range rows {
		total += row.Count
	}

	stats := make([]domain.RegionStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, domain.RegionStat{
			Region:     row.Region,
			Count:      row.Count,
			Percentage: percentage(row.Count, total),
		})
	}

	observability.RecordGeoQueryEvent(ctx, "regions", "success")
	return stats, nil
}

func (a *SessionGeoAggregator) HeatmapPoints(ctx context.Context, organizationID string, since time.Time) ([]domain.HeatmapPoint, error) {
	rows, err := a.repo.HeatmapBuckets(ctx, organizationID, since, a.precision, a.maxPoints)
	if err != nil {
		observability.RecordGeoQueryEvent(ctx, "heatmap", "error")
		return nil, fmt.Errorf("aggregate heatmap: %w", err)
	}

	var heaviest int64
	for _, row := range rows {
		if row.Count > heaviest {
			heaviest = row.Count
		}
	}

	points := make([]domain.HeatmapPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, domain.HeatmapPoint{
			Latitude:         row.Latitude,
			Longitude:        row.Longitude,
			Weight:           row.Count,
			NormalizedWeight: normalizedWeight(row.Count, heaviest),
		})
	}

	observability.RecordGeoQueryEvent(ctx, "heatmap", "success")
	return points, nil
}

func (a *SessionGeoAggregator) RecentSessions(ctx context.Context, organizationID string, since time.Time, page repository.PageRequest) (repository.PageResult[domain.SessionGeoRecord], error) {
	res, err := a.repo.ListRecent(ctx, organizationID, since, page)
	if err != nil {
		observability.RecordGeoQueryEvent(ctx, "recent", "error")
		return repository.PageResult[domain.SessionGeoRecord]{}, fmt.Errorf("list recent sessions: %w", err)
	}
	observability.RecordGeoQueryEvent(ctx, "recent", "success")
	return res, nil
}

// percentage rounds count/total to two decimals. A zero total yields zero
// rather than NaN.
func percentage(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*10000) / 100
}

// normalizedWeight scales a bucket against the heaviest bucket so the
// frontend can shade without knowing absolute volumes.
func normalizedWeight(count, heaviest int64) float64 {
	if heaviest <= 0 {
		return 0
	}
	return float64(count) / float64(heaviest)
}
