package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/middleware"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/response"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/repository"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/service"
)

const (
	defaultWindowDays = 30
	maxWindowDays     = 365

	trackTimeout = 10 * time.Second
)

type GeoHandler struct {
	aggregator service.GeoAggregator
	tracker    service.GeoTracker
	logger     *slog.Logger
}

func NewGeoHandler(aggregator service.GeoAggregator, tracker service.GeoTracker, logger *slog.Logger) *GeoHandler {
	return &GeoHandler{
		aggregator: aggregator,
		tracker:    tracker,
		logger:     logger,
	}
}

func (h *GeoHandler) Countries(w http.ResponseWriter, r *http.Request) {
	claims, err := authClaims(r)
	if err != nil {
		observability.RecordGeoQueryEvent(r.Context(), "countries", "unauthorized")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}
	orgID, ok := h.resolveOrgScope(w, r, claims, "countries")
	if !ok {
		return
	}
	since, ok := h.parseWindow(w, r, "countries")
	if !ok {
		return
	}

	stats, err := h.aggregator.AggregateByCountry(r.Context(), orgID, since)
	if err != nil {
		observability.RecordGeoQueryEvent(r.Context(), "countries", "error")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to aggregate countries", nil)
		return
	}
	observability.RecordGeoQueryEvent(r.Context(), "countries", "success")
	response.JSON(w, r, http.StatusOK, stats)
}

func (h *GeoHandler) Regions(w http.ResponseWriter, r *http.Request) {
	claims, err := authClaims(r)
	if err != nil {
		observability.RecordGeoQueryEvent(r.Context(), "regions", "unauthorized")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}
	orgID, ok := h.resolveOrgScope(w, r, claims, "regions")
	if !ok {
		return
	}
	since, ok := h.parseWindow(w, r, "regions")
	if !ok {
		return
	}

	country := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country")))
	if len(country) != 2 || !isAlpha(country) {
		observability.RecordGeoQueryEvent(r.Context(), "regions", "invalid")
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "country must be a two-letter ISO code", nil)
		return
	}

	stats, err := h.aggregator.AggregateByRegion(r.Context(), orgID, country, since)
	if err != nil {
		observability.RecordGeoQueryEvent(r.Context(), "regions", "error")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to aggregate regions", nil)
		return
	}
	observability.RecordGeoQueryEvent(r.Context(), "regions", "success")
	response.JSON(w, r, http.StatusOK, stats)
}

func (h *GeoHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	claims, err := authClaims(r)
	if err != nil {
		observability.RecordGeoQueryEvent(r.Context(), "heatmap", "unauthorized")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}
	orgID, ok := h.resolveOrgScope(w, r, claims, "heatmap")
	if !ok {
		return
	}
	since, ok := h.parseWindow(w, r, "heatmap")
	if !ok {
		return
	}

	points, err := h.aggregator.HeatmapPoints(r.Context(), orgID, since)
	if err != nil {
		observability.RecordGeoQueryEvent(r.Context(), "heatmap", "error")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to build heatmap", nil)
		return
	}
	observability.RecordGeoQueryEvent(r.Context(), "heatmap", "success")
	response.JSON(w, r, http.StatusOK, points)
}

func (h *GeoHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, err := authClaims(r)
	if err != nil {
		observability.RecordGeoQueryEvent(r.Context(), "sessions", "unauthorized")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}
	orgID, ok := h.resolveOrgScope(w, r, claims, "sessions")
	if !ok {
		return
	}
	since, ok := h.parseWindow(w, r, "sessions")
	if !ok {
		return
	}

	page := repository.PageRequest{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}
	result, err := h.aggregator.RecentSessions(r.Context(), orgID, since, page)
	if err != nil {
		observability.RecordGeoQueryEvent(r.Context(), "sessions", "error")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list sessions", nil)
		return
	}
	observability.RecordGeoQueryEvent(r.Context(), "sessions", "success")
	response.JSON(w, r, http.StatusOK, map[string]any{
		"items":       result.Items,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

type trackRequest struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	IP             string `json:"ip"`
}

func (h *GeoHandler) Track(w http.ResponseWriter, r *http.Request) {
	claims, err := authClaims(r)
	if err != nil {
		observability.RecordTrackEvent(r.Context(), "unauthorized")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observability.RecordTrackEvent(r.Context(), "invalid")
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.UserID) == "" {
		observability.RecordTrackEvent(r.Context(), "invalid")
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "session_id and user_id are required", nil)
		return
	}

	orgID := strings.TrimSpace(req.OrganizationID)
	if orgID == "" {
		orgID = claims.OrganizationID
	}
	if orgID != claims.OrganizationID && !claims.IsSuperAdmin() {
		observability.EmitAudit(r, observability.AuditInput{
			EventName:   "geo.track.isolation",
			ActorUserID: observability.ActorUserID(claims.Subject),
			TargetType:  "organization",
			TargetID:    orgID,
			Action:      "track",
			Outcome:     "blocked",
			Reason:      "cross_tenant_track",
		}, "actor_organization_id", claims.OrganizationID, "session_id", req.SessionID)
		observability.RecordTrackEvent(r.Context(), "forbidden")
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "cannot track sessions for another organization", nil)
		return
	}

	ip := strings.TrimSpace(req.IP)
	if ip == "" {
		ip = remoteHost(r)
	}
	in := service.TrackInput{
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		OrganizationID: orgID,
		IP:             ip,
	}

	// The dashboard only needs the ack; resolution and the upsert run
	// detached from the request lifetime.
	asyncCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), trackTimeout)
	go func() {
		defer cancel()
		if _, err := h.tracker.Track(asyncCtx, in); err != nil {
			h.logger.Warn("async geo track failed",
				"session_id", in.SessionID,
				"organization_id", in.OrganizationID,
				"error", err,
			)
		}
	}()

	observability.RecordTrackEvent(r.Context(), "accepted")
	response.JSON(w, r, http.StatusAccepted, map[string]bool{"accepted": true})
}

func authClaims(r *http.Request) (*security.Claims, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("missing auth claims")
	}
	return claims, nil
}

// resolveOrgScope pins queries to the caller's organization. Only super
// admins may widen the scope with the org_id query parameter; anyone else
// asking for a foreign org is audited and refused.
func (h *GeoHandler) resolveOrgScope(w http.ResponseWriter, r *http.Request, claims *security.Claims, operation string) (string, bool) {
	requested := strings.TrimSpace(r.URL.Query().Get("org_id"))
	if requested == "" || requested == claims.OrganizationID {
		return claims.OrganizationID, true
	}
	if !claims.IsSuperAdmin() {
		observability.EmitAudit(r, observability.AuditInput{
			EventName:   "geo.query.isolation",
			ActorUserID: observability.ActorUserID(claims.Subject),
			TargetType:  "organization",
			TargetID:    requested,
			Action:      "read",
			Outcome:     "blocked",
			Reason:      "cross_tenant_query",
		}, "actor_organization_id", claims.OrganizationID, "operation", operation)
		observability.RecordGeoQueryEvent(r.Context(), operation, "forbidden")
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "cannot query another organization", nil)
		return "", false
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:   "geo.query.cross_org",
		ActorUserID: observability.ActorUserID(claims.Subject),
		TargetType:  "organization",
		TargetID:    requested,
		Action:      "read",
		Outcome:     "success",
		Reason:      "super_admin_scope",
	}, "operation", operation)
	return requested, true
}

func (h *GeoHandler) parseWindow(w http.ResponseWriter, r *http.Request, operation string) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("window_days"))
	days := defaultWindowDays
	if raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxWindowDays {
			observability.RecordGeoQueryEvent(r.Context(), operation, "invalid")
			response.Error(w, r, http.StatusBadRequest, "VALIDATION", "window_days must be an integer between 1 and 365", nil)
			return time.Time{}, false
		}
		days = parsed
	}
	return time.Now().UTC().AddDate(0, 0, -days), true
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return n
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
