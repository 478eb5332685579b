package presence

import (
	"context"
	"errors"
	"time"
)

// ErrNotRegistered reports a heartbeat or unregister for a socket the
// registry no longer knows, typically because the sweeper reaped it first.
// Callers holding the full identity may simply re-register.
var ErrNotRegistered = errors.New("socket not registered")

// Registry tracks live (userID, socketID) pairs per organization. Entries
// carry a last-heartbeat score; anything older than the heartbeat timeout is
// dead even without an explicit unregister. Register, Unregister and
// Heartbeat are atomic at the store level so rapid reconnects never
// double-count.
type Registry interface {
	Register(ctx context.Context, organizationID, userID, socketID string) error
	Unregister(ctx context.Context, organizationID, socketID string) error
	Heartbeat(ctx context.Context, organizationID, socketID string) error
	CountActive(ctx context.Context, organizationID string, window time.Duration) (int64, error)
	ActiveByOrganization(ctx context.Context, window time.Duration) (map[string]int64, error)
	Sweep(ctx context.Context, maxAge time.Duration) (int64, error)
}

func presenceMember(userID, socketID string) string {
	return userID + ":" + socketID
}
