package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
)

func TestProblemDetailsContentNegotiation_DefaultEnvelope(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.doJSON(t, http.MethodGet, "/api/v1/analytics/geo/countries", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json content type, got %q", got)
	}
	if env.Success {
		t.Fatal("expected success=false envelope")
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("expected envelope UNAUTHORIZED, got %#v", env.Error)
	}
}

func TestProblemDetailsContentNegotiation_ProblemJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.doRaw(t, http.MethodGet, "/api/v1/analytics/geo/countries", nil, map[string]string{
		"Accept": "application/problem+json",
	})
	assertProblemDetails(t, resp, body, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", "/api/v1/analytics/geo/countries")
}

func TestProblemDetailsConsistencyFor400401403404(t *testing.T) {
	ts := newTestServer(t)
	member := ts.token(t, "user-1", "org-a", security.RoleMember)
	authedProblem := map[string]string{
		"Accept":        "application/problem+json",
		"Authorization": "Bearer " + member,
	}

	// 400 malformed body
	resp, body := ts.doRaw(t, http.MethodPost, "/api/v1/analytics/geo/track", "{not json", authedProblem)
	assertProblemDetails(t, resp, body, http.StatusBadRequest, "BAD_REQUEST", "Bad Request", "/api/v1/analytics/geo/track")

	// 400 invalid query parameter
	resp, body = ts.doRaw(t, http.MethodGet, "/api/v1/analytics/geo/countries?window_days=abc", nil, authedProblem)
	assertProblemDetails(t, resp, body, http.StatusBadRequest, "VALIDATION", "Validation Failed", "/api/v1/analytics/geo/countries")

	// 401
	resp, body = ts.doRaw(t, http.MethodGet, "/api/v1/analytics/geo/countries", nil, map[string]string{
		"Accept": "application/problem+json",
	})
	assertProblemDetails(t, resp, body, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", "/api/v1/analytics/geo/countries")

	// 403
	resp, body = ts.doRaw(t, http.MethodGet, "/api/v1/analytics/geo/countries?org_id=org-b", nil, authedProblem)
	assertProblemDetails(t, resp, body, http.StatusForbidden, "FORBIDDEN", "Forbidden", "/api/v1/analytics/geo/countries")

	// 404
	resp, body = ts.doRaw(t, http.MethodGet, "/api/v2/nope", nil, map[string]string{
		"Accept": "application/problem+json",
	})
	assertProblemDetails(t, resp, body, http.StatusNotFound, "NOT_FOUND", "Not Found", "/api/v2/nope")
}

func assertProblemDetails(t *testing.T, resp *http.Response, raw string, wantStatus int, wantCode, wantTitle, wantInstance string) {
	t.Helper()
	if resp.StatusCode != wantStatus {
		t.Fatalf("expected status %d, got %d body=%q", wantStatus, resp.StatusCode, raw)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/problem+json" {
		t.Fatalf("expected application/problem+json, got %q body=%q", got, raw)
	}
	var p struct {
		Type      string `json:"type"`
		Title     string `json:"title"`
		Status    int    `json:"status"`
		Detail    string `json:"detail"`
		Instance  string `json:"instance"`
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode problem details: %v body=%q", err, raw)
	}
	if p.Status != wantStatus {
		t.Fatalf("unexpected status field: %d", p.Status)
	}
	if p.Code != wantCode {
		t.Fatalf("unexpected code field: %q", p.Code)
	}
	if p.Title != wantTitle {
		t.Fatalf("unexpected title field: %q", p.Title)
	}
	if p.Instance != wantInstance {
		t.Fatalf("unexpected instance field: %q", p.Instance)
	}
	if p.Type != "urn:problem:openmeet-telemetry:"+strings.ToLower(strings.ReplaceAll(wantCode, "_", "-")) {
		t.Fatalf("unexpected type field: %q", p.Type)
	}
	if p.RequestID == "" {
		t.Fatal("expected request_id in problem details")
	}
	if p.Detail == "" {
		t.Fatal("expected detail in problem details")
	}
}
