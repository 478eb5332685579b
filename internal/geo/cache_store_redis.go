package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
)

// RedisCacheStore shares resolved locations across instances so one database
// lookup serves the whole fleet for the TTL.
type RedisCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCacheStore(client redis.UniversalClient, prefix string) *RedisCacheStore {
	if prefix == "" {
		prefix = "geo:ip"
	}
	return &RedisCacheStore{client: client, prefix: prefix}
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) (domain.GeoLocation, bool, error) {
	if s.client == nil {
		return domain.GeoLocation{}, false, nil
	}
	raw, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if err == redis.Nil {
		return domain.GeoLocation{}, false, nil
	}
	if err != nil {
		return domain.GeoLocation{}, false, err
	}
	var loc domain.GeoLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return domain.GeoLocation{}, false, fmt.Errorf("decode cached location: %w", err)
	}
	return loc, true, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, key string, loc domain.GeoLocation, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}
	return s.client.Set(ctx, s.dataKey(key), raw, ttl).Err()
}

func (s *RedisCacheStore) dataKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}
