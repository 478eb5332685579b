package router

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/handler"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/middleware"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/response"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/realtime"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
)

const apiRequestTimeout = 60 * time.Second

type Dependencies struct {
	Logger        *slog.Logger
	JWTManager    *security.JWTManager
	GeoHandler    *handler.GeoHandler
	HealthHandler *handler.HealthHandler
	Gateway       *realtime.Gateway

	Limiter           middleware.Limiter
	TrackRateLimitRPM int
	APIRateLimitRPM   int
	RateLimitBypass   middleware.BypassEvaluator

	CORSAllowedOrigins []string
}

// New assembles the full HTTP surface: health probes, the two websocket
// upgrade endpoints and the authenticated geo analytics API.
func New(deps Dependencies) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Get("/health/live", deps.HealthHandler.Live)
	r.Get("/health/ready", deps.HealthHandler.Ready)

	// Upgrades authenticate in-band and stay open for hours, so they sit
	// outside the request timeout and the HTTP rate limiters.
	r.Get("/ws/presence", deps.Gateway.HandlePresence)
	r.Get("/ws/analytics", deps.Gateway.HandleAnalytics)

	keyFunc := middleware.SubjectOrIPKeyFunc(deps.JWTManager)
	apiLimiter := middleware.NewDistributedRateLimiterWithKey(
		deps.Limiter,
		middleware.PerMinutePolicy(deps.APIRateLimitRPM),
		middleware.FailOpen,
		"api",
		keyFunc,
	).WithBypass(deps.RateLimitBypass)
	trackLimiter := middleware.NewDistributedRateLimiterWithKey(
		deps.Limiter,
		middleware.PerMinutePolicy(deps.TrackRateLimitRPM),
		middleware.FailClosed,
		"track",
		keyFunc,
	).WithBypass(deps.RateLimitBypass)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(chimiddleware.Timeout(apiRequestTimeout))
		api.Use(middleware.RequireAuth(deps.JWTManager))
		api.Route("/analytics/geo", func(geo chi.Router) {
			geo.Group(func(read chi.Router) {
				read.Use(apiLimiter.Middleware())
				read.Get("/countries", deps.GeoHandler.Countries)
				read.Get("/regions", deps.GeoHandler.Regions)
				read.Get("/heatmap", deps.GeoHandler.Heatmap)
				read.Get("/sessions", deps.GeoHandler.Sessions)
			})
			geo.With(trackLimiter.Middleware()).Post("/track", deps.GeoHandler.Track)
		})
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger == nil || strings.HasPrefix(r.URL.Path, "/health/") {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
