package geo

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
)

// Resolver turns an IP address into a location. Resolution never fails:
// invalid, private and unresolvable inputs all come back as the unknown
// sentinel, so callers have no error branch to mishandle.
type Resolver struct {
	db     Database
	cache  CacheStore
	ttl    time.Duration
	mask   bool
	clk    clock.Clock
	logger *slog.Logger
}

func NewResolver(db Database, cache CacheStore, ttl time.Duration, privacyMask bool, clk clock.Clock, logger *slog.Logger) *Resolver {
	if clk == nil {
		clk = clock.New()
	}
	return &Resolver{
		db:     db,
		cache:  cache,
		ttl:    ttl,
		mask:   privacyMask,
		clk:    clk,
		logger: logger,
	}
}

func (r *Resolver) Resolve(ctx context.Context, rawIP string) domain.GeoLocation {
	now := r.clk.Now().UTC()

	ip := net.ParseIP(strings.TrimSpace(rawIP))
	if ip == nil {
		observability.RecordGeoResolution(ctx, "invalid")
		return domain.UnknownLocation(now)
	}
	if isNonPublic(ip) {
		observability.RecordGeoResolution(ctx, "private")
		return domain.UnknownLocation(now)
	}

	key := r.cacheKey(ip)
	cached, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		observability.RecordGeoResolution(ctx, "cache_error")
		r.logger.Warn("geo cache read failed", "error", err)
	} else if ok {
		observability.RecordGeoResolution(ctx, "cache_hit")
		return cached
	}

	loc, err := r.db.Lookup(ip)
	switch {
	case err != nil:
		// Unknown is cached too: a corrupt or partial database must not be
		// re-queried on every request for the same address.
		observability.RecordGeoResolution(ctx, "db_error")
		r.logger.Warn("geo database lookup failed", "error", err)
		loc = domain.UnknownLocation(now)
	case loc.CountryCode == "":
		observability.RecordGeoResolution(ctx, "unknown")
		loc = domain.UnknownLocation(now)
	default:
		observability.RecordGeoResolution(ctx, "resolved")
		loc.ResolvedAt = now
	}

	if err := r.cache.Set(ctx, key, loc, r.ttl); err != nil {
		r.logger.Warn("geo cache write failed", "error", err)
	}
	return loc
}

// cacheKey truncates the address when privacy masking is on: /24 for IPv4,
// /64 for IPv6. Nearby clients share one cache entry and no full address is
// ever stored.
func (r *Resolver) cacheKey(ip net.IP) string {
	if !r.mask {
		return ip.String()
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String()
}

func isNonPublic(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast()
}
