package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string

	LogLevel  string
	LogFormat string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string

	AuthTimeout           time.Duration
	HeartbeatTimeout      time.Duration
	PresenceSweepInterval time.Duration
	BroadcastInterval     time.Duration
	PresenceWindow        time.Duration

	EventRingCapacity     int
	OutboundQueueSize     int
	SlowConsumerDropLimit int

	GeoDBPath      string
	GeoCacheTTL    time.Duration
	GeoCacheSize   int
	GeoPrivacyMask bool

	HeatmapPrecision int
	HeatmapMaxPoints int

	TrackRateLimitPerMin int
	APIRateLimitPerMin   int

	CORSAllowedOrigins []string
	WSAllowedOrigins   []string

	OTELLogsEnabled          bool
	OTELMetricsEnabled       bool
	OTELTracingEnabled       bool
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELServiceName          string
	OTELEnvironment          string
	OTELTraceSamplingRatio   float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPPort:                 getEnv("HTTP_PORT", "8080"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogFormat:                strings.ToLower(getEnv("LOG_FORMAT", "json")),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  getEnvInt("REDIS_DB", 0),
		JWTIssuer:                getEnv("JWT_ISSUER", "openmeet"),
		JWTAudience:              getEnv("JWT_AUDIENCE", "openmeet-admin"),
		JWTAccessSecret:          os.Getenv("JWT_ACCESS_SECRET"),
		EventRingCapacity:        getEnvInt("EVENT_RING_CAPACITY", 100),
		OutboundQueueSize:        getEnvInt("OUTBOUND_QUEUE_SIZE", 256),
		SlowConsumerDropLimit:    getEnvInt("SLOW_CONSUMER_DROP_LIMIT", 512),
		GeoDBPath:                getEnv("GEO_DB_PATH", "./GeoLite2-City.mmdb"),
		GeoCacheSize:             getEnvInt("GEO_CACHE_SIZE", 4096),
		GeoPrivacyMask:           getEnvBool("GEO_PRIVACY_MASK", true),
		HeatmapPrecision:         getEnvInt("HEATMAP_PRECISION", 2),
		HeatmapMaxPoints:         getEnvInt("HEATMAP_MAX_POINTS", 500),
		TrackRateLimitPerMin:     getEnvInt("TRACK_RATE_LIMIT_PER_MIN", 120),
		APIRateLimitPerMin:       getEnvInt("API_RATE_LIMIT_PER_MIN", 240),
		CORSAllowedOrigins:       splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		WSAllowedOrigins:         splitCSV(getEnv("WS_ALLOWED_ORIGINS", "http://localhost:3000")),
		OTELLogsEnabled:          getEnvBool("OTEL_LOGS_ENABLED", false),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "openmeet-telemetry"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", getEnv("APP_ENV", "development")),
		OTELTraceSamplingRatio:   getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 0.1),
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"AUTH_TIMEOUT", "10s", &cfg.AuthTimeout},
		{"HEARTBEAT_TIMEOUT", "30s", &cfg.HeartbeatTimeout},
		{"PRESENCE_SWEEP_INTERVAL", "10s", &cfg.PresenceSweepInterval},
		{"BROADCAST_INTERVAL", "5s", &cfg.BroadcastInterval},
		{"PRESENCE_WINDOW", "30s", &cfg.PresenceWindow},
		{"GEO_CACHE_TTL", "24h", &cfg.GeoCacheTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dest = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 chars")
	}
	if c.AuthTimeout <= 0 || c.AuthTimeout > time.Minute {
		errs = append(errs, "AUTH_TIMEOUT must be between 1s and 1m")
	}
	if c.HeartbeatTimeout <= 0 || c.HeartbeatTimeout > 10*time.Minute {
		errs = append(errs, "HEARTBEAT_TIMEOUT must be between 1s and 10m")
	}
	if c.PresenceSweepInterval <= 0 {
		errs = append(errs, "PRESENCE_SWEEP_INTERVAL must be > 0")
	}
	if c.BroadcastInterval <= 0 {
		errs = append(errs, "BROADCAST_INTERVAL must be > 0")
	}
	if c.PresenceWindow <= 0 {
		errs = append(errs, "PRESENCE_WINDOW must be > 0")
	}
	if c.EventRingCapacity <= 0 {
		errs = append(errs, "EVENT_RING_CAPACITY must be > 0")
	}
	if c.OutboundQueueSize <= 0 {
		errs = append(errs, "OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if c.SlowConsumerDropLimit <= 0 {
		errs = append(errs, "SLOW_CONSUMER_DROP_LIMIT must be > 0")
	}
	if c.GeoCacheTTL <= 0 {
		errs = append(errs, "GEO_CACHE_TTL must be > 0")
	}
	if c.GeoCacheSize <= 0 {
		errs = append(errs, "GEO_CACHE_SIZE must be > 0")
	}
	if c.HeatmapPrecision < 0 || c.HeatmapPrecision > 4 {
		errs = append(errs, "HEATMAP_PRECISION must be between 0 and 4")
	}
	if c.HeatmapMaxPoints <= 0 || c.HeatmapMaxPoints > 10000 {
		errs = append(errs, "HEATMAP_MAX_POINTS must be between 1 and 10000")
	}
	if c.TrackRateLimitPerMin <= 0 {
		errs = append(errs, "TRACK_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
