package domain

import "time"

type EventType string

const (
	EventMeetingStarted      EventType = "meeting:started"
	EventMeetingEnded        EventType = "meeting:ended"
	EventMeetingSummaryReady EventType = "meeting:summary_ready"
	EventUserRegistered      EventType = "user:registered"
	EventUserLogin           EventType = "user:login"
	EventPaymentReceived     EventType = "billing:payment_received"
	EventSubscriptionUpdated EventType = "billing:subscription_updated"
	EventAPIKeyCreated       EventType = "apikey:created"
	EventOrganizationCreated EventType = "organization:created"
	EventSystemAlert         EventType = "system:alert"
)

var knownEventTypes = map[EventType]struct{}{
	EventMeetingStarted:      {},
	EventMeetingEnded:        {},
	EventMeetingSummaryReady: {},
	EventUserRegistered:      {},
	EventUserLogin:           {},
	EventPaymentReceived:     {},
	EventSubscriptionUpdated: {},
	EventAPIKeyCreated:       {},
	EventOrganizationCreated: {},
	EventSystemAlert:         {},
}

func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

func KnownEventTypes() []EventType {
	out := make([]EventType, 0, len(knownEventTypes))
	for t := range knownEventTypes {
		out = append(out, t)
	}
	return out
}

// NormalizeEventTypes reduces a raw filter list to the known event types it
// names, deduplicated, preserving first-seen order. Unknown strings are
// dropped: filter matching is exact, never pattern-based.
func NormalizeEventTypes(raw []string) []EventType {
	seen := make(map[EventType]struct{}, len(raw))
	out := make([]EventType, 0, len(raw))
	for _, r := range raw {
		t := EventType(r)
		if !t.Valid() {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

type AnalyticsEvent struct {
	ID             string            `json:"id"`
	Type           EventType         `json:"type"`
	OrganizationID string            `json:"organization_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Payload        map[string]any    `json:"payload,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Subscription scopes one connection's analytics feed. An empty Filters set
// means every known event type. AllOrganizations is reserved for super-admin
// sessions on the global feed; everyone else is pinned to OrganizationID.
type Subscription struct {
	ConnectionID     string
	OrganizationID   string
	AllOrganizations bool
	Filters          map[EventType]struct{}
}

func NewSubscription(connectionID, organizationID string, filters []EventType) Subscription {
	s := Subscription{
		ConnectionID:   connectionID,
		OrganizationID: organizationID,
	}
	s.SetFilters(filters)
	return s
}

func (s *Subscription) SetFilters(filters []EventType) {
	if len(filters) == 0 {
		s.Filters = nil
		return
	}
	set := make(map[EventType]struct{}, len(filters))
	for _, t := range filters {
		set[t] = struct{}{}
	}
	s.Filters = set
}

func (s Subscription) WantsType(t EventType) bool {
	if len(s.Filters) == 0 {
		return t.Valid()
	}
	_, ok := s.Filters[t]
	return ok
}

func (s Subscription) Matches(evt AnalyticsEvent) bool {
	if !s.AllOrganizations && evt.OrganizationID != s.OrganizationID {
		return false
	}
	return s.WantsType(evt.Type)
}
