package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
)

// LocalEventBus is the single-process EventBus. It backs tests and
// deployments without Redis; the delivery contract is identical to
// RedisEventBus.
type LocalEventBus struct {
	ringCap int
	clk     clock.Clock

	mu          sync.RWMutex
	rings       map[string][]domain.AnalyticsEvent
	subscribers map[*subscriber]struct{}
	closed      bool
}

func NewLocalEventBus(ringCap int, clk clock.Clock) *LocalEventBus {
	if ringCap <= 0 {
		ringCap = DefaultEventRingCapacity
	}
	if clk == nil {
		clk = clock.New()
	}
	return &LocalEventBus{
		ringCap:     ringCap,
		clk:         clk,
		rings:       make(map[string][]domain.AnalyticsEvent),
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (b *LocalEventBus) Publish(ctx context.Context, organizationID string, eventType domain.EventType, payload map[string]any, metadata map[string]string) (domain.AnalyticsEvent, error) {
	if !eventType.Valid() {
		observability.RecordEventPublished(ctx, string(eventType), "invalid")
		return domain.AnalyticsEvent{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if strings.TrimSpace(organizationID) == "" {
		observability.RecordEventPublished(ctx, string(eventType), "invalid")
		return domain.AnalyticsEvent{}, ErrMissingOrganization
	}

	evt := domain.AnalyticsEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		OrganizationID: organizationID,
		Timestamp:      b.clk.Now().UTC(),
		Payload:        payload,
		Metadata:       metadata,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.AnalyticsEvent{}, ErrBusClosed
	}
	ring := append(b.rings[organizationID], evt)
	if len(ring) > b.ringCap {
		ring = ring[len(ring)-b.ringCap:]
	}
	b.rings[organizationID] = ring
	b.mu.Unlock()

	b.mu.RLock()
	for sub := range b.subscribers {
		if sub.all || sub.organizationID == evt.OrganizationID {
			deliver(ctx, sub, evt)
		}
	}
	b.mu.RUnlock()

	observability.RecordEventPublished(ctx, string(eventType), "success")
	return evt, nil
}

func (b *LocalEventBus) Subscribe(_ context.Context, organizationID string) (<-chan domain.AnalyticsEvent, func(), error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, nil, ErrMissingOrganization
	}
	return b.addSubscriber(&subscriber{
		organizationID: organizationID,
		ch:             make(chan domain.AnalyticsEvent, subscriberBuffer),
	})
}

func (b *LocalEventBus) SubscribeGlobal(_ context.Context) (<-chan domain.AnalyticsEvent, func(), error) {
	return b.addSubscriber(&subscriber{
		all: true,
		ch:  make(chan domain.AnalyticsEvent, subscriberBuffer),
	})
}

func (b *LocalEventBus) GetRecent(_ context.Context, organizationID string, limit int) ([]domain.AnalyticsEvent, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, ErrMissingOrganization
	}
	limit = clampRecentLimit(limit, b.ringCap)

	b.mu.RLock()
	defer b.mu.RUnlock()
	ring := b.rings[organizationID]
	if len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	out := make([]domain.AnalyticsEvent, len(ring))
	copy(out, ring)
	return out, nil
}

func (b *LocalEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = make(map[*subscriber]struct{})
	return nil
}

func (b *LocalEventBus) addSubscriber(sub *subscriber) (<-chan domain.AnalyticsEvent, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBusClosed
	}
	b.subscribers[sub] = struct{}{}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[sub]; !ok {
				return
			}
			delete(b.subscribers, sub)
			close(sub.ch)
		})
	}
	return sub.ch, unsubscribe, nil
}

// deliver is a non-blocking send: a subscriber that cannot keep up loses the
// event rather than stalling every other consumer.
func deliver(ctx context.Context, sub *subscriber, evt domain.AnalyticsEvent) {
	select {
	case sub.ch <- evt:
	default:
		observability.RecordEventDropped(ctx, "subscriber_backlog")
	}
}
