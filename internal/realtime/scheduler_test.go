package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
)

type stubPresenceSource struct {
	countActiveFn func(ctx context.Context, organizationID string, window time.Duration) (int64, error)
	activeByOrgFn func(ctx context.Context, window time.Duration) (map[string]int64, error)
}

func (s *stubPresenceSource) CountActive(ctx context.Context, organizationID string, window time.Duration) (int64, error) {
	if s.countActiveFn == nil {
		return 0, errors.New("not implemented")
	}
	return s.countActiveFn(ctx, organizationID, window)
}

func (s *stubPresenceSource) ActiveByOrganization(ctx context.Context, window time.Duration) (map[string]int64, error) {
	if s.activeByOrgFn == nil {
		return nil, errors.New("not implemented")
	}
	return s.activeByOrgFn(ctx, window)
}

type stubSink struct {
	orgs      []string
	hasGlobal bool
	presence  chan domain.PresenceSnapshot
	globals   chan domain.GlobalPresenceSnapshot
}

func newStubSink(orgs []string, hasGlobal bool) *stubSink {
	return &stubSink{
		orgs:      orgs,
		hasGlobal: hasGlobal,
		presence:  make(chan domain.PresenceSnapshot, 16),
		globals:   make(chan domain.GlobalPresenceSnapshot, 16),
	}
}

func (s *stubSink) PresenceOrganizations() []string { return s.orgs }
func (s *stubSink) HasGlobalPresenceWatcher() bool  { return s.hasGlobal }

func (s *stubSink) BroadcastPresence(_ string, snap domain.PresenceSnapshot) {
	s.presence <- snap
}

func (s *stubSink) BroadcastGlobalPresence(snap domain.GlobalPresenceSnapshot) {
	s.globals <- snap
}

func recvPresence(t *testing.T, ch <-chan domain.PresenceSnapshot) domain.PresenceSnapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a presence snapshot")
	}
	return domain.PresenceSnapshot{}
}

func TestSchedulerBroadcastsSnapshotsPerOrganization(t *testing.T) {
	counts := map[string]int64{"org-a": 3, "org-b": 1}
	source := &stubPresenceSource{
		countActiveFn: func(_ context.Context, organizationID string, window time.Duration) (int64, error) {
			if window != 30*time.Second {
				t.Errorf("window = %v, want 30s", window)
			}
			return counts[organizationID], nil
		},
	}
	sink := newStubSink([]string{"org-a", "org-b"}, false)

	mock := clock.NewMock()
	s := NewScheduler(source, sink, 5*time.Second, 30*time.Second, mock, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// let Run reach its ticker before driving the clock
	time.Sleep(20 * time.Millisecond)
	mock.Add(5 * time.Second)

	got := map[string]int64{}
	for i := 0; i < 2; i++ {
		snap := recvPresence(t, sink.presence)
		got[snap.OrganizationID] = snap.TotalUsers
	}
	if got["org-a"] != 3 || got["org-b"] != 1 {
		t.Fatalf("broadcast counts = %v, want org-a:3 org-b:1", got)
	}

	select {
	case snap := <-sink.globals:
		t.Fatalf("unexpected global snapshot without a watcher: %+v", snap)
	default:
	}
}

func TestSchedulerSkipsFailingOrganizationAndContinues(t *testing.T) {
	source := &stubPresenceSource{
		countActiveFn: func(_ context.Context, organizationID string, _ time.Duration) (int64, error) {
			if organizationID == "org-a" {
				return 0, errors.New("store unreachable")
			}
			return 4, nil
		},
	}
	sink := newStubSink([]string{"org-a", "org-b"}, false)

	mock := clock.NewMock()
	s := NewScheduler(source, sink, 5*time.Second, 30*time.Second, mock, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	mock.Add(5 * time.Second)

	snap := recvPresence(t, sink.presence)
	if snap.OrganizationID != "org-b" || snap.TotalUsers != 4 {
		t.Fatalf("snapshot = %+v, want org-b with 4 users", snap)
	}
	select {
	case extra := <-sink.presence:
		t.Fatalf("failing organization still broadcast: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	// a failing organization must not stop the loop
	mock.Add(5 * time.Second)
	snap = recvPresence(t, sink.presence)
	if snap.OrganizationID != "org-b" {
		t.Fatalf("second tick snapshot = %+v", snap)
	}
}

func TestSchedulerBroadcastsGlobalSnapshotForWatchers(t *testing.T) {
	source := &stubPresenceSource{
		countActiveFn: func(context.Context, string, time.Duration) (int64, error) { return 0, nil },
		activeByOrgFn: func(context.Context, time.Duration) (map[string]int64, error) {
			return map[string]int64{"org-a": 5, "org-b": 9, "org-c": 5}, nil
		},
	}
	sink := newStubSink(nil, true)

	mock := clock.NewMock()
	s := NewScheduler(source, sink, 5*time.Second, 30*time.Second, mock, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	mock.Add(5 * time.Second)

	var snap domain.GlobalPresenceSnapshot
	select {
	case snap = <-sink.globals:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the global snapshot")
	}

	if snap.TotalUsers != 19 {
		t.Fatalf("TotalUsers = %d, want 19", snap.TotalUsers)
	}
	wantOrder := []string{"org-b", "org-a", "org-c"}
	if len(snap.Organizations) != len(wantOrder) {
		t.Fatalf("breakdown has %d entries, want %d", len(snap.Organizations), len(wantOrder))
	}
	for i, want := range wantOrder {
		if snap.Organizations[i].OrganizationID != want {
			t.Fatalf("breakdown[%d] = %s, want %s (count desc, id asc)", i, snap.Organizations[i].OrganizationID, want)
		}
	}
}

func TestBuildGlobalSnapshotOrdering(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snap := buildGlobalSnapshot(map[string]int64{"org-z": 2, "org-a": 2, "org-m": 7}, at)
	if snap.TotalUsers != 11 {
		t.Fatalf("TotalUsers = %d, want 11", snap.TotalUsers)
	}
	if !snap.Timestamp.Equal(at) {
		t.Fatalf("Timestamp = %v, want %v", snap.Timestamp, at)
	}
	wantOrder := []string{"org-m", "org-a", "org-z"}
	for i, want := range wantOrder {
		if snap.Organizations[i].OrganizationID != want {
			t.Fatalf("breakdown[%d] = %s, want %s", i, snap.Organizations[i].OrganizationID, want)
		}
	}

	empty := buildGlobalSnapshot(nil, at)
	if empty.TotalUsers != 0 || len(empty.Organizations) != 0 {
		t.Fatalf("empty breakdown = %+v", empty)
	}
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	source := &stubPresenceSource{
		countActiveFn: func(context.Context, string, time.Duration) (int64, error) { return 1, nil },
	}
	sink := newStubSink([]string{"org-a"}, false)

	mock := clock.NewMock()
	s := NewScheduler(source, sink, 5*time.Second, 30*time.Second, mock, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	mock.Add(5 * time.Second)

	select {
	case snap := <-sink.presence:
		t.Fatalf("tick after cancel broadcast %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}
