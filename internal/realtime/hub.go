package realtime

import (
	"sort"
	"sync"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
)

// Hub tracks every live gateway connection, grouped by organization. The
// scheduler asks it which organizations need presence snapshots and pushes
// snapshots back through it; analytics delivery bypasses the hub because
// each analytics connection holds its own bus subscription.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	byOrg   map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		byOrg:   make(map[string]map[*Client]struct{}),
	}
}

// Register adds an authenticated client. The client must already carry its
// claims: registration is keyed by organization.
func (h *Hub) Register(c *Client) {
	organizationID := c.OrganizationID()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.byOrg[organizationID] == nil {
		h.byOrg[organizationID] = make(map[*Client]struct{})
	}
	h.byOrg[organizationID][c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	organizationID := c.OrganizationID()

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if members, ok := h.byOrg[organizationID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.byOrg, organizationID)
		}
	}
}

// PresenceOrganizations lists organizations with at least one presence
// subscriber, sorted for deterministic iteration.
func (h *Hub) PresenceOrganizations() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.byOrg))
	for organizationID, members := range h.byOrg {
		for c := range members {
			if c.Namespace == domain.NamespacePresence {
				out = append(out, organizationID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// HasGlobalPresenceWatcher reports whether any presence subscriber is
// entitled to the cross-organization breakdown.
func (h *Hub) HasGlobalPresenceWatcher() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.Namespace == domain.NamespacePresence && c.IsSuperAdmin() {
			return true
		}
	}
	return false
}

// BroadcastPresence delivers an organization snapshot to that organization's
// presence subscribers. Delivery is fire-and-forget via each client's
// snapshot mailbox.
func (h *Hub) BroadcastPresence(organizationID string, snap domain.PresenceSnapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.byOrg[organizationID] {
		if c.Namespace != domain.NamespacePresence {
			continue
		}
		s := snap
		c.QueueSnapshot(outboundFrame{Type: frameUpdate, Snapshot: &s})
	}
}

// BroadcastGlobalPresence delivers the cross-organization snapshot to every
// super-admin presence subscriber, whatever organization they connected
// under.
func (h *Hub) BroadcastGlobalPresence(snap domain.GlobalPresenceSnapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.Namespace != domain.NamespacePresence || !c.IsSuperAdmin() {
			continue
		}
		s := snap
		c.QueueSnapshot(outboundFrame{Type: frameGlobal, Global: &s})
	}
}

// Sessions snapshots every live connection for introspection.
func (h *Hub) Sessions() []domain.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.Session, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c.Session())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
