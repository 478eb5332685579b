package geo

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
)

// CacheStore holds resolved locations keyed by (possibly privacy-masked) IP.
// A store error is never fatal to resolution; callers treat it as a miss.
type CacheStore interface {
	Get(ctx context.Context, key string) (domain.GeoLocation, bool, error)
	Set(ctx context.Context, key string, loc domain.GeoLocation, ttl time.Duration) error
}

type NoopCacheStore struct{}

func NewNoopCacheStore() *NoopCacheStore { return &NoopCacheStore{} }

func (s *NoopCacheStore) Get(context.Context, string) (domain.GeoLocation, bool, error) {
	return domain.GeoLocation{}, false, nil
}

func (s *NoopCacheStore) Set(context.Context, string, domain.GeoLocation, time.Duration) error {
	return nil
}

// LRUCacheStore is the in-process store: a size-bounded LRU whose entries
// expire on their own. TTL is fixed at construction; the per-call ttl is
// accepted for interface symmetry with the Redis store.
type LRUCacheStore struct {
	cache *lru.LRU[string, domain.GeoLocation]
}

func NewLRUCacheStore(size int, ttl time.Duration) *LRUCacheStore {
	if size <= 0 {
		size = 1024
	}
	return &LRUCacheStore{cache: lru.NewLRU[string, domain.GeoLocation](size, nil, ttl)}
}

func (s *LRUCacheStore) Get(_ context.Context, key string) (domain.GeoLocation, bool, error) {
	loc, ok := s.cache.Get(key)
	return loc, ok, nil
}

func (s *LRUCacheStore) Set(_ context.Context, key string, loc domain.GeoLocation, _ time.Duration) error {
	s.cache.Add(key, loc)
	return nil
}
