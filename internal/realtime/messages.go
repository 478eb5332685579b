package realtime

import (
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
)

// Close codes carried on the websocket close frame. They live in the 4000
// range so proxies and client libraries pass them through untouched.
const (
	CloseAuthFailure     = 4401
	CloseTenantViolation = 4403
	CloseSlowConsumer    = 4429
)

// Inbound message types accepted from clients.
const (
	msgAuth      = "auth"
	msgSubscribe = "subscribe"
	msgGetRecent = "getRecent"
	msgHeartbeat = "heartbeat"
)

// Outbound frame types.
const (
	frameInit       = "init"
	frameUpdate     = "update"
	frameGlobal     = "global"
	frameSubscribed = "subscribed"
	frameRecent     = "recent"
	frameEvent      = "event"
	frameStatus     = "status"
	frameError      = "error"
)

// inboundFrame is the single decode target for every client message. The
// relevant fields depend on Type; unknown fields are ignored.
type inboundFrame struct {
	Type           string   `json:"type"`
	Token          string   `json:"token,omitempty"`
	EventTypes     []string `json:"eventTypes,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	OrganizationID string   `json:"organizationId,omitempty"`
}

// outboundFrame is the envelope for every server-to-client message.
type outboundFrame struct {
	Type          string                         `json:"type"`
	Snapshot      *domain.PresenceSnapshot       `json:"snapshot,omitempty"`
	Global        *domain.GlobalPresenceSnapshot `json:"global,omitempty"`
	Event         *domain.AnalyticsEvent         `json:"event,omitempty"`
	Events        []domain.AnalyticsEvent        `json:"events,omitempty"`
	EventTypes    []string                       `json:"eventTypes,omitempty"`
	Code          string                         `json:"code,omitempty"`
	Message       string                         `json:"message,omitempty"`
	Degraded      bool                           `json:"degraded,omitempty"`
	DroppedEvents int64                          `json:"droppedEvents,omitempty"`
}

func errorFrame(code, message string) outboundFrame {
	return outboundFrame{Type: frameError, Code: code, Message: message}
}
