package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/response"
)

const readinessTimeout = 2 * time.Second

type HealthHandler struct {
	redis  redis.UniversalClient
	db     *gorm.DB
	logger *slog.Logger
}

func NewHealthHandler(redisClient redis.UniversalClient, db *gorm.DB, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		redis:  redisClient,
		db:     db,
		logger: logger,
	}
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether the process can serve traffic, checking the two hard
// dependencies. Check results carry no backend error text.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]string{
		"redis":    "ok",
		"database": "ok",
	}
	ready := true

	if h.redis == nil {
		checks["redis"] = "not configured"
		ready = false
	} else if err := h.redis.Ping(ctx).Err(); err != nil {
		h.logger.Warn("readiness check failed", "component", "redis", "error", err)
		checks["redis"] = "unreachable"
		ready = false
	}

	if h.db == nil {
		checks["database"] = "not configured"
		ready = false
	} else if sqlDB, err := h.db.DB(); err != nil {
		h.logger.Warn("readiness check failed", "component", "database", "error", err)
		checks["database"] = "unreachable"
		ready = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		h.logger.Warn("readiness check failed", "component", "database", "error", err)
		checks["database"] = "unreachable"
		ready = false
	}

	if !ready {
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", checks)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}
