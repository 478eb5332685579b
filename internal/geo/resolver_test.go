package geo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
)

type stubDatabase struct {
	lookups  int
	lookupFn func(ip net.IP) (domain.GeoLocation, error)
}

func (s *stubDatabase) Lookup(ip net.IP) (domain.GeoLocation, error) {
	s.lookups++
	return s.lookupFn(ip)
}

func (s *stubDatabase) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func usLookup(net.IP) (domain.GeoLocation, error) {
	return domain.GeoLocation{
		CountryCode: "US",
		Country:     "United States",
		Region:      "California",
		City:        "San Francisco",
		Latitude:    37.77,
		Longitude:   -122.41,
	}, nil
}

func newResolverForTest(db Database, mask bool) *Resolver {
	return NewResolver(db, NewLRUCacheStore(128, time.Hour), time.Hour, mask, clock.NewMock(), testLogger())
}

func TestResolveInvalidAndPrivateNeverTouchDatabase(t *testing.T) {
	db := &stubDatabase{lookupFn: usLookup}
	r := newResolverForTest(db, true)
	ctx := context.Background()

	for _, raw := range []string{
		"", "not-an-ip", "999.1.2.3",
		"10.1.2.3", "192.168.0.5", "172.16.4.4",
		"127.0.0.1", "::1", "0.0.0.0",
		"169.254.1.1", "fe80::1",
	} {
		loc := r.Resolve(ctx, raw)
		if !loc.Unknown() {
			t.Fatalf("expected unknown for %q, got %+v", raw, loc)
		}
	}
	if db.lookups != 0 {
		t.Fatalf("database must not be consulted for invalid/private input, got %d lookups", db.lookups)
	}
}

func TestResolveCachesByMaskedPrefix(t *testing.T) {
	db := &stubDatabase{lookupFn: usLookup}
	r := newResolverForTest(db, true)
	ctx := context.Background()

	first := r.Resolve(ctx, "203.0.113.5")
	if first.CountryCode != "US" {
		t.Fatalf("expected resolved location, got %+v", first)
	}
	// same /24, different host: cache hit, no second lookup
	second := r.Resolve(ctx, "203.0.113.99")
	if second.CountryCode != "US" {
		t.Fatalf("expected cached location, got %+v", second)
	}
	if db.lookups != 1 {
		t.Fatalf("expected exactly one database lookup, got %d", db.lookups)
	}

	// different /24 misses
	_ = r.Resolve(ctx, "198.51.100.7")
	if db.lookups != 2 {
		t.Fatalf("expected second lookup for new prefix, got %d", db.lookups)
	}
}

func TestResolveIPv6MaskSharesSlash64(t *testing.T) {
	db := &stubDatabase{lookupFn: usLookup}
	r := newResolverForTest(db, true)
	ctx := context.Background()

	_ = r.Resolve(ctx, "2001:db8:aaaa:bbbb::1")
	_ = r.Resolve(ctx, "2001:db8:aaaa:bbbb:ffff::9")
	if db.lookups != 1 {
		t.Fatalf("expected one lookup for shared /64, got %d", db.lookups)
	}
}

func TestResolveWithoutMaskKeysFullAddress(t *testing.T) {
	db := &stubDatabase{lookupFn: usLookup}
	r := newResolverForTest(db, false)
	ctx := context.Background()

	_ = r.Resolve(ctx, "203.0.113.5")
	_ = r.Resolve(ctx, "203.0.113.99")
	if db.lookups != 2 {
		t.Fatalf("expected per-address lookups without masking, got %d", db.lookups)
	}
}

func TestResolveDatabaseFailureCachesUnknown(t *testing.T) {
	db := &stubDatabase{lookupFn: func(net.IP) (domain.GeoLocation, error) {
		return domain.GeoLocation{}, errors.New("corrupt database")
	}}
	r := newResolverForTest(db, true)
	ctx := context.Background()

	loc := r.Resolve(ctx, "203.0.113.5")
	if !loc.Unknown() {
		t.Fatalf("expected unknown on database failure, got %+v", loc)
	}
	// the failure result is cached so the bad database is not hammered
	loc = r.Resolve(ctx, "203.0.113.5")
	if !loc.Unknown() {
		t.Fatalf("expected cached unknown, got %+v", loc)
	}
	if db.lookups != 1 {
		t.Fatalf("expected single lookup against failing database, got %d", db.lookups)
	}
}

func TestResolveEmptyCountryCodeIsUnknown(t *testing.T) {
	db := &stubDatabase{lookupFn: func(net.IP) (domain.GeoLocation, error) {
		return domain.GeoLocation{Latitude: 1, Longitude: 1}, nil
	}}
	r := newResolverForTest(db, true)

	loc := r.Resolve(context.Background(), "203.0.113.5")
	if !loc.Unknown() {
		t.Fatalf("expected unknown for empty ISO code, got %+v", loc)
	}
}

func TestResolveSurvivesCacheFailure(t *testing.T) {
	db := &stubDatabase{lookupFn: usLookup}
	r := NewResolver(db, failingCacheStore{}, time.Hour, true, clock.NewMock(), testLogger())

	loc := r.Resolve(context.Background(), "203.0.113.5")
	if loc.CountryCode != "US" {
		t.Fatalf("expected resolution despite cache failure, got %+v", loc)
	}
}

type failingCacheStore struct{}

func (failingCacheStore) Get(context.Context, string) (domain.GeoLocation, bool, error) {
	return domain.GeoLocation{}, false, errors.New("cache down")
}

func (failingCacheStore) Set(context.Context, string, domain.GeoLocation, time.Duration) error {
	return errors.New("cache down")
}
