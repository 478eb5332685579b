package domain

import "time"

type Namespace string

const (
	NamespacePresence  Namespace = "presence"
	NamespaceAnalytics Namespace = "analytics"
)

// Session is the ephemeral descriptor of one live socket. It exists only in
// memory for the lifetime of the connection; nothing here is persisted.
type Session struct {
	UserID          string    `json:"user_id"`
	OrganizationID  string    `json:"organization_id"`
	SocketID        string    `json:"socket_id"`
	Namespace       Namespace `json:"namespace"`
	Role            string    `json:"role"`
	ConnectedAt     time.Time `json:"connected_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}
