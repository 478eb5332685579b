package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/config"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/database"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/geo"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/handler"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/middleware"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/router"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/presence"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/realtime"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/repository"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/service"
)

// The harness runs the full router against miniredis and in-memory sqlite,
// with a fixture geo database instead of a real mmdb file.

type testServer struct {
	baseURL string
	client  *http.Client
	jwtMgr  *security.JWTManager
	repo    repository.SessionGeoRepository
	redis   *miniredis.Miniredis
}

type serverOptions struct {
	trackRPM int
	apiRPM   int
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithOptions(t, serverOptions{})
}

func newTestServerWithOptions(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	if opts.trackRPM == 0 {
		opts.trackRPM = 120
	}
	if opts.apiRPM == 0 {
		opts.apiRPM = 240
	}

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.New()
	repo := repository.NewSessionGeoRepository(db)
	resolver := geo.NewResolver(fixtureGeoDatabase(), geo.NewLRUCacheStore(64, time.Hour), time.Hour, false, clk, logger)
	tracker := service.NewSessionGeoTracker(resolver, repo, clk)
	aggregator := service.NewSessionGeoAggregator(repo, 2, 500)

	jwtMgr := security.NewJWTManager("openmeet-test", "openmeet-admin", "integration-test-secret-0123456789")
	registry := presence.NewRedisRegistry(client, "presence", 30*time.Second, clk)
	bus := realtime.NewLocalEventBus(100, clk)
	t.Cleanup(func() { _ = bus.Close() })
	gateway := realtime.NewGateway(registry, bus, realtime.NewHub(), jwtMgr, &config.Config{
		AuthTimeout:           time.Second,
		HeartbeatTimeout:      30 * time.Second,
		PresenceWindow:        30 * time.Second,
		OutboundQueueSize:     16,
		SlowConsumerDropLimit: 32,
	}, clk, logger)

	deps := router.Dependencies{
		Logger:            logger,
		JWTManager:        jwtMgr,
		GeoHandler:        handler.NewGeoHandler(aggregator, tracker, logger),
		HealthHandler:     handler.NewHealthHandler(client, db, logger),
		Gateway:           gateway,
		Limiter:           middleware.NewRedisSlidingWindowLimiter(client, "rl_integration"),
		TrackRateLimitRPM: opts.trackRPM,
		APIRateLimitRPM:   opts.apiRPM,
		RateLimitBypass: middleware.NewRequestBypassEvaluator(middleware.RequestBypassConfig{
			EnableInternalProbeBypass: true,
		}, jwtMgr),
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}

	srv := httptest.NewServer(router.New(deps))
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
		jwtMgr:  jwtMgr,
		repo:    repo,
		redis:   m,
	}
}

// fixtureGeoDatabase resolves the two addresses the tests track. Anything
// else comes back empty and lands on the unknown country.
func fixtureGeoDatabase() geo.Database {
	return staticGeoDatabase{
		"8.8.8.8":     {CountryCode: "US", Country: "United States", Region: "California", City: "Mountain View", Latitude: 37.4, Longitude: -122.07},
		"81.2.69.142": {CountryCode: "GB", Country: "United Kingdom", Region: "England", City: "London", Latitude: 51.51, Longitude: -0.09},
	}
}

type staticGeoDatabase map[string]domain.GeoLocation

func (d staticGeoDatabase) Lookup(ip net.IP) (domain.GeoLocation, error) {
	return d[ip.String()], nil
}

func (d staticGeoDatabase) Close() error { return nil }

func (ts *testServer) token(t *testing.T, userID, org, role string) string {
	t.Helper()
	token, err := ts.jwtMgr.SignAccessToken(userID, org, role, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func (ts *testServer) doJSON(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	resp, raw := ts.doRaw(t, method, path, body, headers)
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("decode envelope: %v; raw=%q", err, raw)
	}
	return resp, env
}

func (ts *testServer) doRaw(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, ts.baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(raw)
}

func (ts *testServer) seed(t *testing.T, rec domain.SessionGeoRecord) {
	t.Helper()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := ts.repo.Upsert(context.Background(), &rec); err != nil {
		t.Fatalf("seed %s: %v", rec.SessionID, err)
	}
}

// waitTracked polls for the detached track write to land.
func (ts *testServer) waitTracked(t *testing.T, sessionID string) *domain.SessionGeoRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := ts.repo.FindBySessionID(context.Background(), sessionID)
		if err == nil {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s was never tracked", sessionID)
	return nil
}
