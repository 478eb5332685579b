package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
)

const analyticsKeyPrefix = "analytics"

// RedisEventBus is the multi-node EventBus. Publishes go through Redis so
// every node sees every event; each node runs one pattern-subscription pump
// that demultiplexes into its local subscribers. The replay ring is a capped
// Redis list per organization, shared across nodes.
type RedisEventBus struct {
	client  redis.UniversalClient
	prefix  string
	ringCap int
	clk     clock.Clock
	logger  *slog.Logger

	pubsub *redis.PubSub

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

func NewRedisEventBus(ctx context.Context, client redis.UniversalClient, ringCap int, clk clock.Clock, logger *slog.Logger) (*RedisEventBus, error) {
	if ringCap <= 0 {
		ringCap = DefaultEventRingCapacity
	}
	if clk == nil {
		clk = clock.New()
	}

	b := &RedisEventBus{
		client:      client,
		prefix:      analyticsKeyPrefix,
		ringCap:     ringCap,
		clk:         clk,
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}

	b.pubsub = client.PSubscribe(ctx, b.prefix+":events:*")
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		return nil, fmt.Errorf("subscribe analytics channels: %w", err)
	}
	go b.pump()

	return b, nil
}

func (b *RedisEventBus) Publish(ctx context.Context, organizationID string, eventType domain.EventType, payload map[string]any, metadata map[string]string) (domain.AnalyticsEvent, error) {
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
	raw, err := json.Marshal(evt)
	if err != nil {
		observability.RecordEventPublished(ctx, string(eventType), "error")
		return domain.AnalyticsEvent{}, fmt.Errorf("encode analytics event: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.LPush(ctx, b.ringKey(organizationID), raw)
	pipe.LTrim(ctx, b.ringKey(organizationID), 0, int64(b.ringCap-1))
	pipe.Publish(ctx, b.orgChannel(organizationID), raw)
	pipe.Publish(ctx, b.globalChannel(), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.RecordEventPublished(ctx, string(eventType), "error")
		return domain.AnalyticsEvent{}, fmt.Errorf("publish analytics event: %w", err)
	}

	observability.RecordEventPublished(ctx, string(eventType), "success")
	return evt, nil
}

func (b *RedisEventBus) Subscribe(_ context.Context, organizationID string) (<-chan domain.AnalyticsEvent, func(), error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, nil, ErrMissingOrganization
	}
	return b.addSubscriber(&subscriber{
		organizationID: organizationID,
		ch:             make(chan domain.AnalyticsEvent, subscriberBuffer),
	})
}

func (b *RedisEventBus) SubscribeGlobal(_ context.Context) (<-chan domain.AnalyticsEvent, func(), error) {
	return b.addSubscriber(&subscriber{
		all: true,
		ch:  make(chan domain.AnalyticsEvent, subscriberBuffer),
	})
}

func (b *RedisEventBus) GetRecent(ctx context.Context, organizationID string, limit int) ([]domain.AnalyticsEvent, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, ErrMissingOrganization
	}
	limit = clampRecentLimit(limit, b.ringCap)

	raws, err := b.client.LRange(ctx, b.ringKey(organizationID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read analytics ring: %w", err)
	}

	// LPUSH stores newest at the head; reverse into chronological order.
	out := make([]domain.AnalyticsEvent, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var evt domain.AnalyticsEvent
		if err := json.Unmarshal([]byte(raws[i]), &evt); err != nil {
			b.logger.Warn("skipping undecodable retained event", "organization_id", organizationID, "error", err)
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = make(map[*subscriber]struct{})
	b.mu.Unlock()

	return b.pubsub.Close()
}

func (b *RedisEventBus) addSubscriber(sub *subscriber) (<-chan domain.AnalyticsEvent, func(), error) {
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

// pump runs until the pattern subscription closes, demultiplexing Redis
// messages into local subscriber channels.
func (b *RedisEventBus) pump() {
	for msg := range b.pubsub.Channel() {
		b.dispatch(msg.Channel, []byte(msg.Payload))
	}
}

func (b *RedisEventBus) dispatch(channel string, payload []byte) {
	ctx := context.Background()

	var evt domain.AnalyticsEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		b.logger.Warn("dropping undecodable analytics event", "channel", channel, "error", err)
		observability.RecordEventDropped(ctx, "decode_error")
		return
	}

	scope := strings.TrimPrefix(channel, b.prefix+":events:")
	switch {
	case scope == "global":
		b.fanout(ctx, evt, true, "")
	case strings.HasPrefix(scope, "org:"):
		organizationID := strings.TrimPrefix(scope, "org:")
		// The channel name is the isolation boundary. An event whose
		// body names a different organization must never be delivered.
		if evt.OrganizationID != organizationID {
			observability.EmitAuditCtx(ctx, observability.AuditInput{
				EventName:   "analytics.isolation.violation",
				ActorUserID: "system",
				TargetType:  "organization",
				TargetID:    organizationID,
				Action:      "deliver",
				Outcome:     "blocked",
				Reason:      "event_organization_mismatch",
			}, "event_id", evt.ID, "event_organization_id", evt.OrganizationID)
			observability.RecordEventDropped(ctx, "tenant_isolation")
			return
		}
		b.fanout(ctx, evt, false, organizationID)
	default:
		b.logger.Warn("ignoring message on unexpected channel", "channel", channel)
	}
}

func (b *RedisEventBus) fanout(ctx context.Context, evt domain.AnalyticsEvent, global bool, organizationID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subscribers {
		if sub.all != global {
			continue
		}
		if !global && sub.organizationID != organizationID {
			continue
		}
		deliver(ctx, sub, evt)
	}
}

func (b *RedisEventBus) ringKey(organizationID string) string {
	return b.prefix + ":recent:" + organizationID
}

func (b *RedisEventBus) orgChannel(organizationID string) string {
	return b.prefix + ":events:org:" + organizationID
}

func (b *RedisEventBus) globalChannel() string {
	return b.prefix + ":events:global"
}
