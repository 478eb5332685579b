package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestMemoryRegistryMatchesRedisSemantics(t *testing.T) {
	mock := clock.NewMock()
	reg := NewMemoryRegistry(mock)
	ctx := context.Background()

	for _, pair := range [][2]string{{"u1", "s1"}, {"u1", "s2"}, {"u2", "s3"}} {
		if err := reg.Register(ctx, "org-x", pair[0], pair[1]); err != nil {
			t.Fatalf("register %v: %v", pair, err)
		}
	}
	if err := reg.Register(ctx, "org-x", "u1", "s1"); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	count, err := reg.CountActive(ctx, "org-x", 30*time.Second)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 pairs, got %d", count)
	}

	mock.Add(20 * time.Second)
	if err := reg.Heartbeat(ctx, "org-x", "s2"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := reg.Heartbeat(ctx, "org-x", "s3"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	mock.Add(15 * time.Second)

	count, err = reg.CountActive(ctx, "org-x", 30*time.Second)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 fresh pairs, got %d", count)
	}

	removed, err := reg.Sweep(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
	if err := reg.Heartbeat(ctx, "org-x", "s1"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered after sweep, got %v", err)
	}
}

func TestMemoryRegistryUnregisterAndOrganizationCleanup(t *testing.T) {
	reg := NewMemoryRegistry(clock.NewMock())
	ctx := context.Background()

	if err := reg.Register(ctx, "org-a", "u1", "s1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(ctx, "org-b", "u2", "s2"); err != nil {
		t.Fatalf("register: %v", err)
	}

	byOrg, err := reg.ActiveByOrganization(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("active by organization: %v", err)
	}
	if len(byOrg) != 2 || byOrg["org-a"] != 1 || byOrg["org-b"] != 1 {
		t.Fatalf("unexpected breakdown: %v", byOrg)
	}

	if err := reg.Unregister(ctx, "org-a", "s1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := reg.Unregister(ctx, "org-a", "s1"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}

	byOrg, err = reg.ActiveByOrganization(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("active by organization: %v", err)
	}
	if len(byOrg) != 1 || byOrg["org-b"] != 1 {
		t.Fatalf("expected only org-b, got %v", byOrg)
	}
}
