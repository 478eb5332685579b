package realtime

import (
	"context"
	"errors"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
)

const (
	// DefaultEventRingCapacity bounds the per-organization replay ring.
	DefaultEventRingCapacity = 100

	// subscriberBuffer is the per-subscriber channel depth. Delivery is
	// at-most-once: a full buffer drops the event for that subscriber
	// rather than blocking the publisher.
	subscriberBuffer = 64
)

var (
	ErrUnknownEventType    = errors.New("unknown analytics event type")
	ErrMissingOrganization = errors.New("organization id is required")
	ErrBusClosed           = errors.New("event bus is closed")
)

// EventBus fans analytics events out to dashboard subscribers and keeps a
// short replay ring per organization so a dashboard that just connected can
// backfill its feed. Events are ephemeral: once evicted from the ring they
// are gone.
type EventBus interface {
	// Publish assigns the event its id and timestamp, appends it to the
	// organization's replay ring, and delivers it to the organization's
	// subscribers and to global subscribers. Unknown event types are
	// rejected.
	Publish(ctx context.Context, organizationID string, eventType domain.EventType, payload map[string]any, metadata map[string]string) (domain.AnalyticsEvent, error)

	// Subscribe returns a channel carrying events for one organization
	// and a function that releases the subscription. The channel is
	// closed when the subscription is released or the bus shuts down.
	Subscribe(ctx context.Context, organizationID string) (<-chan domain.AnalyticsEvent, func(), error)

	// SubscribeGlobal returns a channel carrying events across all
	// organizations. Reserved for super-admin consumers.
	SubscribeGlobal(ctx context.Context) (<-chan domain.AnalyticsEvent, func(), error)

	// GetRecent returns up to limit retained events for the organization
	// in chronological order, newest last.
	GetRecent(ctx context.Context, organizationID string, limit int) ([]domain.AnalyticsEvent, error)

	// Close releases all subscriptions.
	Close() error
}

// subscriber is one delivery target. organizationID is empty when all is
// set.
type subscriber struct {
	organizationID string
	all            bool
	ch             chan domain.AnalyticsEvent
}

func clampRecentLimit(limit, ringCap int) int {
	if limit <= 0 || limit > ringCap {
		return ringCap
	}
	return limit
}
