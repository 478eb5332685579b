package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
)

var ErrSessionGeoNotFound = errors.New("session geo record not found")

type CountryCount struct {
	CountryCode string
	Country     string
	Count       int64
}

type RegionCount struct {
	Region string
	Count  int64
}

type HeatmapBucket struct {
	Latitude  float64
	Longitude float64
	Count     int64
}

type SessionGeoRepository interface {
	Upsert(ctx context.Context, rec *domain.SessionGeoRecord) error
	FindBySessionID(ctx context.Context, sessionID string) (*domain.SessionGeoRecord, error)
	CountByCountry(ctx context.Context, organizationID string, since time.Time) ([]CountryCount, error)
	CountByRegion(ctx context.Context, organizationID, countryCode string, since time.Time) ([]RegionCount, error)
	HeatmapBuckets(ctx context.Context, organizationID string, since time.Time, precision, limit int) ([]HeatmapBucket, error)
	ListRecent(ctx context.Context, organizationID string, since time.Time, page PageRequest) (PageResult[domain.SessionGeoRecord], error)
}

type GormSessionGeoRepository struct{ db *gorm.DB }

func NewSessionGeoRepository(db *gorm.DB) SessionGeoRepository {
	return &GormSessionGeoRepository{db: db}
}

// Upsert keys on session_id: tracking the same session again updates the
// existing row, so repeated track calls stay idempotent.
func (r *GormSessionGeoRepository) Upsert(ctx context.Context, rec *domain.SessionGeoRecord) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "organization_id", "country_code", "country",
			"region", "city", "latitude", "longitude", "timestamp", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session_geo", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session_geo", "upsert", "success")
	return nil
}

func (r *GormSessionGeoRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.SessionGeoRecord, error) {
	var rec domain.SessionGeoRecord
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session_geo", "find_by_session", "not_found")
			return nil, ErrSessionGeoNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session_geo", "find_by_session", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session_geo", "find_by_session", "success")
	return &rec, nil
}

func (r *GormSessionGeoRepository) CountByCountry(ctx context.Context, organizationID string, since time.Time) ([]CountryCount, error) {
	var rows []CountryCount
	err := r.db.WithContext(ctx).Model(&domain.SessionGeoRecord{}).
		Select("country_code, MAX(country) AS country, COUNT(*) AS count").
		Where("organization_id = ? AND timestamp >= ?", organizationID, since).
		Group("country_code").
		Order("count DESC, country_code ASC").
		Scan(&rows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session_geo", "count_by_country", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session_geo", "count_by_country", "success")
	return rows, nil
}

func (r *GormSessionGeoRepository) CountByRegion(ctx context.Context, organizationID, countryCode string, since time.Time) ([]RegionCount, error) {
	var rows []RegionCount
	err := r.db.WithContext(ctx).Model(&domain.SessionGeoRecord{}).
		Select("region, COUNT(*) AS count").
		Where("organization_id = ? AND country_code = ? AND timestamp >= ?", organizationID, countryCode, since).
		Group("region").
		Order("count DESC, region ASC").
		Scan(&rows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session_geo", "count_by_region", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session_geo", "count_by_region", "success")
	return rows, nil
}

// HeatmapBuckets groups sessions onto a fixed-precision grid. Unknown
// locations sit at 0,0 and are excluded so they never paint a false cluster.
// Positional GROUP BY keeps the rounded expressions unambiguous on both
// Postgres and SQLite.
func (r *GormSessionGeoRepository) HeatmapBuckets(ctx context.Context, organizationID string, since time.Time, precision, limit int) ([]HeatmapBucket, error) {
	var rows []HeatmapBucket
	err := r.db.WithContext(ctx).Model(&domain.SessionGeoRecord{}).
		Select("ROUND(CAST(latitude AS numeric), ?) AS latitude, ROUND(CAST(longitude AS numeric), ?) AS longitude, COUNT(*) AS count", precision, precision).
		Where("organization_id = ? AND timestamp >= ? AND country_code <> ?", organizationID, since, domain.UnknownCountryCode).
		Group("1, 2").
		Order("count DESC, latitude ASC, longitude ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session_geo", "heatmap", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session_geo", "heatmap", "success")
	return rows, nil
}

func (r *GormSessionGeoRepository) ListRecent(ctx context.Context, organizationID string, since time.Time, page PageRequest) (PageResult[domain.SessionGeoRecord], error) {
	page = normalizePageRequest(page)
	base := r.db.WithContext(ctx).Model(&domain.SessionGeoRecord{}).
		Where("organization_id = ? AND timestamp >= ?", organizationID, since)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "session_geo", "list_recent", "error")
		return PageResult[domain.SessionGeoRecord]{}, err
	}

	var items []domain.SessionGeoRecord
	err := base.
		Order("timestamp DESC, id DESC").
		Offset(page.offset()).
		Limit(page.PageSize).
		Find(&items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session_geo", "list_recent", "error")
		return PageResult[domain.SessionGeoRecord]{}, err
	}

	observability.RecordRepositoryOperation(ctx, "session_geo", "list_recent", "success")
	return PageResult[domain.SessionGeoRecord]{
		Items:      items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      total,
		TotalPages: calcTotalPages(total, page.PageSize),
	}, nil
}
