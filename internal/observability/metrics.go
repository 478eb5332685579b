package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nikolaospapagiannis/OpenMeet-sub007"

var (
	metricsOnce sync.Once

	repositoryOps    metric.Int64Counter
	presenceOps      metric.Int64Counter
	presenceSwept    metric.Int64Counter
	broadcastTicks   metric.Int64Counter
	geoResolutions   metric.Int64Counter
	geoQueries       metric.Int64Counter
	trackRequests    metric.Int64Counter
	eventsPublished  metric.Int64Counter
	eventsDropped    metric.Int64Counter
	gatewayOps       metric.Int64Counter
	gatewaySessions  metric.Int64UpDownCounter
	rateLimitChecks  metric.Int64Counter
	auditEvents      metric.Int64Counter
)

// ensureMeters creates every instrument against the global meter. The global
// is delegating, so instruments built before InitRuntime rebind once the real
// provider is installed.
func ensureMeters() {
	metricsOnce.Do(func() {
		meter := otel.Meter(meterName)
		repositoryOps, _ = meter.Int64Counter("repository_operations_total",
			metric.WithDescription("Repository operations by entity, operation and outcome"))
		presenceOps, _ = meter.Int64Counter("presence_operations_total",
			metric.WithDescription("Presence registry operations by operation and outcome"))
		presenceSwept, _ = meter.Int64Counter("presence_entries_swept_total",
			metric.WithDescription("Dead presence entries removed by the sweeper"))
		broadcastTicks, _ = meter.Int64Counter("broadcast_ticks_total",
			metric.WithDescription("Broadcast scheduler ticks by outcome"))
		geoResolutions, _ = meter.Int64Counter("geo_resolutions_total",
			metric.WithDescription("IP geolocation resolutions by outcome"))
		geoQueries, _ = meter.Int64Counter("geo_queries_total",
			metric.WithDescription("Geo aggregation queries by operation and outcome"))
		trackRequests, _ = meter.Int64Counter("geo_track_requests_total",
			metric.WithDescription("Session location track requests by outcome"))
		eventsPublished, _ = meter.Int64Counter("analytics_events_published_total",
			metric.WithDescription("Analytics events published by type and outcome"))
		eventsDropped, _ = meter.Int64Counter("analytics_events_dropped_total",
			metric.WithDescription("Analytics events dropped before delivery by reason"))
		gatewayOps, _ = meter.Int64Counter("gateway_operations_total",
			metric.WithDescription("Realtime gateway lifecycle operations by outcome"))
		gatewaySessions, _ = meter.Int64UpDownCounter("gateway_active_sessions",
			metric.WithDescription("Currently connected realtime sessions by namespace"))
		rateLimitChecks, _ = meter.Int64Counter("rate_limit_checks_total",
			metric.WithDescription("Rate limit decisions by scope and outcome"))
		auditEvents, _ = meter.Int64Counter("audit_events_total",
			metric.WithDescription("Audit events by event name and outcome"))
	})
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	ensureMeters()
	repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordPresenceOperation(ctx context.Context, operation, outcome string) {
	ensureMeters()
	presenceOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordPresenceSwept(ctx context.Context, removed int64) {
	ensureMeters()
	presenceSwept.Add(ctx, removed)
}

func RecordBroadcastTick(ctx context.Context, outcome string) {
	ensureMeters()
	broadcastTicks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func RecordGeoResolution(ctx context.Context, outcome string) {
	ensureMeters()
	geoResolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func RecordGeoQueryEvent(ctx context.Context, operation, outcome string) {
	ensureMeters()
	geoQueries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordTrackEvent(ctx context.Context, outcome string) {
	ensureMeters()
	trackRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func RecordEventPublished(ctx context.Context, eventType, outcome string) {
	ensureMeters()
	eventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}

func RecordEventDropped(ctx context.Context, reason string) {
	ensureMeters()
	eventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func RecordGatewayEvent(ctx context.Context, operation, outcome string) {
	ensureMeters()
	gatewayOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordGatewaySessionChange(ctx context.Context, namespace string, delta int64) {
	ensureMeters()
	gatewaySessions.Add(ctx, delta, metric.WithAttributes(
		attribute.String("namespace", namespace),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	ensureMeters()
	rateLimitChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}

func recordAuditEvent(ctx context.Context, eventName, outcome string) {
	ensureMeters()
	auditEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_name", eventName),
		attribute.String("outcome", outcome),
	))
}
