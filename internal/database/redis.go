package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/config"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
)

// NewRedisClient connects, instruments and ping-checks the shared client used
// by the presence registry, the event bus, the geo cache and the rate limiter.
func NewRedisClient(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	client.AddHook(observability.NewRedisMetricsHook())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}
