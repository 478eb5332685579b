package observability

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	redisMetricsOnce sync.Once
	redisCommands    metric.Int64Counter
	redisLatency     metric.Float64Histogram
	redisHits        metric.Int64Counter
	redisMisses      metric.Int64Counter
	redisErrors      metric.Int64Counter
)

func ensureRedisMeters() {
	redisMetricsOnce.Do(func() {
		meter := otel.Meter(meterName)
		redisCommands, _ = meter.Int64Counter("redis_commands_total",
			metric.WithDescription("Redis commands by name and outcome"))
		redisLatency, _ = meter.Float64Histogram("redis_command_duration_seconds",
			metric.WithDescription("Redis command round-trip latency"))
		redisHits, _ = meter.Int64Counter("redis_keyspace_hits_total",
			metric.WithDescription("Redis read commands that found a value"))
		redisMisses, _ = meter.Int64Counter("redis_keyspace_misses_total",
			metric.WithDescription("Redis read commands that found nothing"))
		redisErrors, _ = meter.Int64Counter("redis_errors_total",
			metric.WithDescription("Redis command failures by error class"))
	})
}

// NewRedisMetricsHook instruments every command and pipeline on a client.
// redis.Nil is a keyspace miss, not an error.
func NewRedisMetricsHook() redis.Hook {
	ensureRedisMeters()
	return &redisMetricsHook{}
}

type redisMetricsHook struct{}

func (h *redisMetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			redisErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("class", classifyRedisError(err)),
				attribute.String("phase", "dial"),
			))
		}
		return conn, err
	}
}

func (h *redisMetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(ctx, cmd, time.Since(start))
		return err
	}
}

func (h *redisMetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		elapsed := time.Since(start)
		for _, cmd := range cmds {
			h.observe(ctx, cmd, elapsed)
		}
		return err
	}
}

func (h *redisMetricsHook) observe(ctx context.Context, cmd redis.Cmder, elapsed time.Duration) {
	outcome := "success"
	if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
		outcome = "error"
		redisErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("class", classifyRedisError(err)),
			attribute.String("phase", "process"),
		))
	}
	redisCommands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", strings.ToLower(cmd.Name())),
		attribute.String("outcome", outcome),
	))
	redisLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("command", strings.ToLower(cmd.Name())),
	))

	if hits, misses, ok := classifyKeyspaceOutcome(cmd); ok {
		if hits > 0 {
			redisHits.Add(ctx, hits)
		}
		if misses > 0 {
			redisMisses.Add(ctx, misses)
		}
	}
}

// classifyKeyspaceOutcome reports hit/miss counts for read commands where the
// distinction is observable from the reply shape.
func classifyKeyspaceOutcome(cmd redis.Cmder) (int64, int64, bool) {
	switch strings.ToLower(cmd.Name()) {
	case "get":
		c, ok := cmd.(*redis.StringCmd)
		if !ok {
			return 0, 0, false
		}
		if errors.Is(c.Err(), redis.Nil) {
			return 0, 1, true
		}
		if c.Err() != nil {
			return 0, 0, false
		}
		return 1, 0, true
	case "mget":
		c, ok := cmd.(*redis.SliceCmd)
		if !ok || c.Err() != nil {
			return 0, 0, false
		}
		var hits, misses int64
		for _, v := range c.Val() {
			if v == nil {
				misses++
			} else {
				hits++
			}
		}
		return hits, misses, true
	}
	return 0, 0, false
}

func classifyRedisError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused") ||
		strings.Contains(msg, "broken pipe") || strings.Contains(msg, "reset by peer"):
		return "connection"
	default:
		return "other"
	}
}

func clampRatio(ratio float64) float64 {
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}
