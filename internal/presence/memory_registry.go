package presence

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// MemoryRegistry is the single-process Registry used by tests and local
// development. Semantics match RedisRegistry, including ErrNotRegistered.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time // org -> member -> last heartbeat
	sockets map[string]map[string]string    // org -> socketID -> member
	clk     clock.Clock
}

func NewMemoryRegistry(clk clock.Clock) *MemoryRegistry {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryRegistry{
		entries: map[string]map[string]time.Time{},
		sockets: map[string]map[string]string{},
		clk:     clk,
	}
}

func (r *MemoryRegistry) Register(_ context.Context, organizationID, userID, socketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[organizationID] == nil {
		r.entries[organizationID] = map[string]time.Time{}
		r.sockets[organizationID] = map[string]string{}
	}
	member := presenceMember(userID, socketID)
	r.entries[organizationID][member] = r.clk.Now()
	r.sockets[organizationID][socketID] = member
	return nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, organizationID, socketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	member, ok := r.sockets[organizationID][socketID]
	if !ok {
		return ErrNotRegistered
	}
	delete(r.sockets[organizationID], socketID)
	delete(r.entries[organizationID], member)
	r.dropOrgIfEmptyLocked(organizationID)
	return nil
}

func (r *MemoryRegistry) Heartbeat(_ context.Context, organizationID, socketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	member, ok := r.sockets[organizationID][socketID]
	if !ok {
		return ErrNotRegistered
	}
	r.entries[organizationID][member] = r.clk.Now()
	return nil
}

func (r *MemoryRegistry) CountActive(_ context.Context, organizationID string, window time.Duration) (int64, error) {
	cutoff := r.clk.Now().Add(-window)
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, at := range r.entries[organizationID] {
		if !at.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRegistry) ActiveByOrganization(_ context.Context, window time.Duration) (map[string]int64, error) {
	cutoff := r.clk.Now().Add(-window)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int64{}
	for org, members := range r.entries {
		var count int64
		for _, at := range members {
			if !at.Before(cutoff) {
				count++
			}
		}
		if count > 0 {
			out[org] = count
		}
	}
	return out, nil
}

func (r *MemoryRegistry) Sweep(_ context.Context, maxAge time.Duration) (int64, error) {
	cutoff := r.clk.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for org, members := range r.entries {
		for member, at := range members {
			if at.Before(cutoff) {
				delete(members, member)
				removed++
				for socketID, m := range r.sockets[org] {
					if m == member {
						delete(r.sockets[org], socketID)
					}
				}
			}
		}
		r.dropOrgIfEmptyLocked(org)
	}
	return removed, nil
}

func (r *MemoryRegistry) dropOrgIfEmptyLocked(organizationID string) {
	if len(r.entries[organizationID]) == 0 {
		delete(r.entries, organizationID)
		delete(r.sockets, organizationID)
	}
}
