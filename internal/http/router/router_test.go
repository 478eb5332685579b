package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/config"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/handler"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/middleware"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/presence"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/realtime"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/repository"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/service"
)

type staticAggregator struct{}

func (staticAggregator) AggregateByCountry(context.Context, string, time.Time) ([]domain.CountryStat, error) {
	return []domain.CountryStat{{CountryCode: "US", Country: "United States", Count: 1, Percentage: 100}}, nil
}

func (staticAggregator) AggregateByRegion(context.Context, string, string, time.Time) ([]domain.RegionStat, error) {
	return nil, errors.New("not implemented")
}

func (staticAggregator) HeatmapPoints(context.Context, string, time.Time) ([]domain.HeatmapPoint, error) {
	return nil, errors.New("not implemented")
}

func (staticAggregator) RecentSessions(context.Context, string, time.Time, repository.PageRequest) (repository.PageResult[domain.SessionGeoRecord], error) {
	return repository.PageResult[domain.SessionGeoRecord]{}, errors.New("not implemented")
}

type noopTracker struct{}

func (noopTracker) Track(_ context.Context, in service.TrackInput) (*domain.SessionGeoRecord, error) {
	return &domain.SessionGeoRecord{SessionID: in.SessionID}, nil
}

type routerHarness struct {
	router  http.Handler
	jwtMgr  *security.JWTManager
	limiter middleware.Limiter
}

func newRouterHarness(t *testing.T, trackRPM int) *routerHarness {
	t.Helper()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	jwtMgr := security.NewJWTManager("openmeet-test", "openmeet-admin", "router-test-secret-0123456789abcd")
	bus := realtime.NewLocalEventBus(100, clock.New())
	t.Cleanup(func() { _ = bus.Close() })
	gateway := realtime.NewGateway(
		presence.NewMemoryRegistry(clock.New()),
		bus,
		realtime.NewHub(),
		jwtMgr,
		&config.Config{
			AuthTimeout:           time.Second,
			HeartbeatTimeout:      30 * time.Second,
			PresenceWindow:        30 * time.Second,
			OutboundQueueSize:     16,
			SlowConsumerDropLimit: 32,
		},
		clock.New(),
		discard,
	)

	limiter := middleware.NewRedisSlidingWindowLimiter(client, "rl_router_test")
	deps := Dependencies{
		Logger:             discard,
		JWTManager:         jwtMgr,
		GeoHandler:         handler.NewGeoHandler(staticAggregator{}, noopTracker{}, discard),
		HealthHandler:      handler.NewHealthHandler(client, db, discard),
		Gateway:            gateway,
		Limiter:            limiter,
		TrackRateLimitRPM:  trackRPM,
		APIRateLimitRPM:    240,
		RateLimitBypass:    middleware.NewRequestBypassEvaluator(middleware.RequestBypassConfig{EnableInternalProbeBypass: true}, jwtMgr),
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}
	return &routerHarness{router: New(deps), jwtMgr: jwtMgr, limiter: limiter}
}

func (h *routerHarness) token(t *testing.T, userID, organizationID, role string) string {
	t.Helper()
	token, err := h.jwtMgr.SignAccessToken(userID, organizationID, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestRouterHealthEndpointsSkipAuth(t *testing.T) {
	h := newRouterHarness(t, 120)

	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAPIRequiresAuth(t *testing.T) {
	h := newRouterHarness(t, 120)

	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/geo/countries", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected error payload: %+v", body)
	}
}

func TestRouterAuthedCountriesRoundTrip(t *testing.T) {
	h := newRouterHarness(t, 120)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/geo/countries", nil)
	req.Header.Set("Authorization", "Bearer "+h.token(t, "user-1", "org-a", security.RoleMember))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	data, ok := body["data"].([]any)
	if !ok || len(data) != 1 {
		t.Fatalf("unexpected data: %+v", body["data"])
	}
}

func TestRouterTrackRateLimitReturns429(t *testing.T) {
	h := newRouterHarness(t, 1)
	token := h.token(t, "user-1", "org-a", security.RoleMember)

	payload := []byte(`{"session_id":"sess-1","user_id":"user-1","ip":"8.8.8.8"}`)
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analytics/geo/track", bytes.NewReader(payload))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.5:1000"
		rr := httptest.NewRecorder()
		h.router.ServeHTTP(rr, req)
		return rr
	}

	if rr := send(); rr.Code != http.StatusAccepted {
		t.Fatalf("first track: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second track: expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "RATE_LIMITED" {
		t.Fatalf("unexpected error payload: %+v", body)
	}
}

func TestRouterTrackLimitIsPerSubject(t *testing.T) {
	h := newRouterHarness(t, 1)

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analytics/geo/track",
			bytes.NewReader([]byte(`{"session_id":"sess-1","user_id":"u","ip":"8.8.8.8"}`)))
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = "203.0.113.5:1000"
		rr := httptest.NewRecorder()
		h.router.ServeHTTP(rr, req)
		return rr.Code
	}

	alice := h.token(t, "alice", "org-a", security.RoleMember)
	bob := h.token(t, "bob", "org-a", security.RoleMember)

	if code := send(alice); code != http.StatusAccepted {
		t.Fatalf("alice first: expected 202, got %d", code)
	}
	if code := send(alice); code != http.StatusTooManyRequests {
		t.Fatalf("alice second: expected 429, got %d", code)
	}
	// same source IP, different subject: separate budget
	if code := send(bob); code != http.StatusAccepted {
		t.Fatalf("bob first: expected 202, got %d", code)
	}
}

func TestRouterUnknownRouteUsesEnvelope(t *testing.T) {
	h := newRouterHarness(t, 120)

	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v2/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "NOT_FOUND" {
		t.Fatalf("unexpected error payload: %+v", body)
	}

	rr = httptest.NewRecorder()
	h.router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/health/live", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	h := newRouterHarness(t, 120)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analytics/geo/countries", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected allowed origin echoed, got %q (status %d)", got, rr.Code)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/analytics/geo/countries", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr = httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected foreign origin rejected, got %q", got)
	}
}
