package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/app"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/config"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/database"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/geo"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/handler"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/middleware"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/router"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/presence"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/realtime"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/repository"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/service"
)

const (
	presenceKeyPrefix  = "presence"
	rateLimitKeyPrefix = "rl"
	geoCacheKeyPrefix  = "geo:ip"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	observability.NewLogger,
	provideObservabilityRuntime,
)

var RuntimeInfraSet = wire.NewSet(
	provideClock,
	provideOpenDB,
	provideRedisClient,
)

var RepositorySet = wire.NewSet(repository.NewSessionGeoRepository)

var SecuritySet = wire.NewSet(provideJWTManager)

var ServiceSet = wire.NewSet(
	provideGeoDatabase,
	provideGeoCacheStore,
	provideGeoResolver,
	provideGeoTracker,
	provideGeoAggregator,
	providePresenceRegistry,
	providePresenceSweeper,
	provideEventBus,
	provideHub,
	provideScheduler,
)

var HTTPSet = wire.NewSet(
	provideGateway,
	provideGeoHandler,
	provideHealthHandler,
	provideRateLimiter,
	provideBypassEvaluator,
	provideRouterDependencies,
	provideRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(app.New)

func provideObservabilityRuntime(cfg *config.Config, logger *slog.Logger) (*observability.Runtime, error) {
	observability.SetAuditLogger(logger)
	return observability.InitRuntime(context.Background(), cfg, logger)
}

func provideClock() clock.Clock { return clock.New() }

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

func provideRedisClient(cfg *config.Config) (redis.UniversalClient, error) {
	return database.NewRedisClient(context.Background(), cfg)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

// provideGeoDatabase degrades instead of failing: a dashboard without a geo
// dataset still serves presence and analytics, it just maps everything to
// the unknown country.
func provideGeoDatabase(cfg *config.Config, logger *slog.Logger) geo.Database {
	if cfg.GeoDBPath == "" {
		logger.Warn("geo database path not configured, locations resolve as unknown")
		return geo.NewUnavailableDatabase()
	}
	db, err := geo.OpenMaxMindDatabase(cfg.GeoDBPath)
	if err != nil {
		logger.Warn("geo database unavailable, locations resolve as unknown", "path", cfg.GeoDBPath, "error", err)
		return geo.NewUnavailableDatabase()
	}
	return db
}

// provideGeoCacheStore prefers the Redis store so one database lookup
// serves every instance for the TTL; the in-process LRU covers stacks
// running without Redis.
func provideGeoCacheStore(client redis.UniversalClient, cfg *config.Config) geo.CacheStore {
	if client != nil {
		return geo.NewRedisCacheStore(client, geoCacheKeyPrefix)
	}
	if cfg.GeoCacheSize <= 0 {
		return geo.NewNoopCacheStore()
	}
	return geo.NewLRUCacheStore(cfg.GeoCacheSize, cfg.GeoCacheTTL)
}

func provideGeoResolver(db geo.Database, cache geo.CacheStore, cfg *config.Config, clk clock.Clock, logger *slog.Logger) *geo.Resolver {
	return geo.NewResolver(db, cache, cfg.GeoCacheTTL, cfg.GeoPrivacyMask, clk, logger)
}

func provideGeoTracker(resolver *geo.Resolver, repo repository.SessionGeoRepository, clk clock.Clock) service.GeoTracker {
	return service.NewSessionGeoTracker(resolver, repo, clk)
}

func provideGeoAggregator(repo repository.SessionGeoRepository, cfg *config.Config) service.GeoAggregator {
	return service.NewSessionGeoAggregator(repo, cfg.HeatmapPrecision, cfg.HeatmapMaxPoints)
}

func providePresenceRegistry(client redis.UniversalClient, cfg *config.Config, clk clock.Clock) presence.Registry {
	return presence.NewRedisRegistry(client, presenceKeyPrefix, cfg.HeartbeatTimeout, clk)
}

func providePresenceSweeper(registry presence.Registry, cfg *config.Config, clk clock.Clock, logger *slog.Logger) *presence.Sweeper {
	return presence.NewSweeper(registry, cfg.PresenceSweepInterval, cfg.HeartbeatTimeout, clk, logger)
}

func provideEventBus(client redis.UniversalClient, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (realtime.EventBus, error) {
	return realtime.NewRedisEventBus(context.Background(), client, cfg.EventRingCapacity, clk, logger)
}

func provideHub() *realtime.Hub { return realtime.NewHub() }

func provideScheduler(registry presence.Registry, hub *realtime.Hub, cfg *config.Config, clk clock.Clock, logger *slog.Logger) *realtime.Scheduler {
	return realtime.NewScheduler(registry, hub, cfg.BroadcastInterval, cfg.PresenceWindow, clk, logger)
}

func provideGateway(registry presence.Registry, bus realtime.EventBus, hub *realtime.Hub, jwtMgr *security.JWTManager, cfg *config.Config, clk clock.Clock, logger *slog.Logger) *realtime.Gateway {
	return realtime.NewGateway(registry, bus, hub, jwtMgr, cfg, clk, logger)
}

func provideGeoHandler(aggregator service.GeoAggregator, tracker service.GeoTracker, logger *slog.Logger) *handler.GeoHandler {
	return handler.NewGeoHandler(aggregator, tracker, logger)
}

func provideHealthHandler(client redis.UniversalClient, db *gorm.DB, logger *slog.Logger) *handler.HealthHandler {
	return handler.NewHealthHandler(client, db, logger)
}

func provideRateLimiter(client redis.UniversalClient) middleware.Limiter {
	return middleware.NewRedisSlidingWindowLimiter(client, rateLimitKeyPrefix)
}

func provideBypassEvaluator(jwtMgr *security.JWTManager) middleware.BypassEvaluator {
	return middleware.NewRequestBypassEvaluator(middleware.RequestBypassConfig{
		EnableInternalProbeBypass: true,
	}, jwtMgr)
}

func provideRouterDependencies(
	logger *slog.Logger,
	jwtMgr *security.JWTManager,
	geoHandler *handler.GeoHandler,
	healthHandler *handler.HealthHandler,
	gateway *realtime.Gateway,
	limiter middleware.Limiter,
	bypass middleware.BypassEvaluator,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		Logger:             logger,
		JWTManager:         jwtMgr,
		GeoHandler:         geoHandler,
		HealthHandler:      healthHandler,
		Gateway:            gateway,
		Limiter:            limiter,
		TrackRateLimitRPM:  cfg.TrackRateLimitPerMin,
		APIRateLimitRPM:    cfg.APIRateLimitPerMin,
		RateLimitBypass:    bypass,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
}

func provideRouter(deps router.Dependencies) http.Handler {
	return router.New(deps)
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// MigrationRunner applies the schema migrations and exits. It backs the
// "migrate" subcommand so deploys can run migrations before rolling pods.
type MigrationRunner struct {
	cfg    *config.Config
	db     *gorm.DB
	logger *slog.Logger
}

func NewMigrationRunner(cfg *config.Config, db *gorm.DB, logger *slog.Logger) *MigrationRunner {
	return &MigrationRunner{cfg: cfg, db: db, logger: logger}
}

func (m *MigrationRunner) Run() error {
	m.logger.Info("running database migrations", "env", m.cfg.Env)
	if err := database.Migrate(m.db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	m.logger.Info("database migrations complete")
	return nil
}
