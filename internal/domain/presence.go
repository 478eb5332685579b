package domain

import "time"

// PresenceSnapshot is one organization's active-user count at a broadcast tick.
type PresenceSnapshot struct {
	OrganizationID string    `json:"organization_id"`
	TotalUsers     int64     `json:"total_users"`
	Timestamp      time.Time `json:"timestamp"`
}

type OrganizationPresence struct {
	OrganizationID string `json:"organization_id"`
	ActiveUsers    int64  `json:"active_users"`
}

// GlobalPresenceSnapshot is the cross-organization breakdown delivered to
// super-admin subscribers. Organizations is sorted by ActiveUsers descending,
// ties broken by OrganizationID ascending.
type GlobalPresenceSnapshot struct {
	TotalUsers    int64                  `json:"total_users"`
	Organizations []OrganizationPresence `json:"organizations"`
	Timestamp     time.Time              `json:"timestamp"`
}
