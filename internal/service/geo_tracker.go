package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/repository"
)

var (
	ErrMissingSessionID      = errors.New("session id is required")
	ErrMissingUserID         = errors.New("user id is required")
	ErrMissingOrganizationID = errors.New("organization id is required")
)

// GeoResolver resolves a raw IP address into a location. Resolution never
// fails: private, invalid, and unresolvable addresses map to the unknown
// location sentinel.
type GeoResolver interface {
	Resolve(ctx context.Context, rawIP string) domain.GeoLocation
}

// TrackInput carries one connection sighting to be recorded on the map.
type TrackInput struct {
	SessionID      string
	UserID         string
	OrganizationID string
	IP             string
}

func (in TrackInput) validate() error {
	if strings.TrimSpace(in.SessionID) == "" {
		return ErrMissingSessionID
	}
	if strings.TrimSpace(in.UserID) == "" {
		return ErrMissingUserID
	}
	if strings.TrimSpace(in.OrganizationID) == "" {
		return ErrMissingOrganizationID
	}
	return nil
}

// GeoTracker records where active sessions connect from.
type GeoTracker interface {
	// Track resolves the session's IP and upserts its geo record.
	// Tracking the same session again moves the existing record instead
	// of creating a duplicate. Unresolvable addresses are still recorded
	// under the unknown country so totals stay honest.
	Track(ctx context.Context, in TrackInput) (*domain.SessionGeoRecord, error)
}

// SessionGeoTracker implements GeoTracker on top of the IP resolver and the
// session geo repository.
type SessionGeoTracker struct {
	resolver GeoResolver
	repo     repository.SessionGeoRepository
	clk      clock.Clock
}

func NewSessionGeoTracker(resolver GeoResolver, repo repository.SessionGeoRepository, clk clock.Clock) *SessionGeoTracker {
	if clk == nil {
		clk = clock.New()
	}
	return &SessionGeoTracker{
		resolver: resolver,
		repo:     repo,
		clk:      clk,
	}
}

func (t *SessionGeoTracker) Track(ctx context.Context, in TrackInput) (*domain.SessionGeoRecord, error) {
	if err := in.validate(); err != nil {
		observability.RecordTrackEvent(ctx, "invalid")
		return nil, err
	}

	loc := t.resolver.Resolve(ctx, in.IP)

	rec := &domain.SessionGeoRecord{
		SessionID:      strings.TrimSpace(in.SessionID),
		UserID:         strings.TrimSpace(in.UserID),
		OrganizationID: strings.TrimSpace(in.OrganizationID),
		CountryCode:    loc.CountryCode,
		Country:        loc.Country,
		Region:         loc.Region,
		City:           loc.City,
		Latitude:       loc.Latitude,
		Longitude:      loc.Longitude,
		Timestamp:      t.clk.Now().UTC(),
	}

	if err := t.repo.Upsert(ctx, rec); err != nil {
		observability.RecordTrackEvent(ctx, "store_error")
		return nil, fmt.Errorf("track session geo: %w", err)
	}

	outcome := "resolved"
	if loc.Unknown() {
		outcome = "unknown"
	}
	observability.RecordTrackEvent(ctx, outcome)
	return rec, nil
}
