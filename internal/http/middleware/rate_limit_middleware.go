package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/response"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
)

// RateLimitPolicy combines a sliding-window sustained limit with a token
// bucket for short bursts. Zero fields are filled in by normalizePolicy.
type RateLimitPolicy struct {
	SustainedLimit    int
	SustainedWindow   time.Duration
	BurstCapacity     int
	BurstRefillPerSec float64
}

// Decision is one limiter verdict for one request key.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// PerMinutePolicy builds the common requests-per-minute policy used by the
// router config knobs.
func PerMinutePolicy(rpm int) RateLimitPolicy {
	return normalizePolicy(RateLimitPolicy{SustainedLimit: rpm, SustainedWindow: time.Minute})
}

func normalizePolicy(p RateLimitPolicy) RateLimitPolicy {
	if p.SustainedLimit <= 0 {
		p.SustainedLimit = 60
	}
	if p.SustainedWindow <= 0 {
		p.SustainedWindow = time.Minute
	}
	if p.BurstCapacity <= 0 {
		p.BurstCapacity = p.SustainedLimit
	}
	if p.BurstRefillPerSec <= 0 {
		p.BurstRefillPerSec = float64(p.SustainedLimit) / p.SustainedWindow.Seconds()
	}
	return p
}

type fixedWindow struct {
	count       int
	windowStart time.Time
}

// localFixedWindowLimiter applies the sustained limit per key in process
// memory. Single-node fallback; the burst bucket half of the policy is only
// enforced by the redis limiter.
type localFixedWindowLimiter struct {
	mu      sync.Mutex
	store   map[string]*fixedWindow
	cleanup time.Time
}

func NewLocalFixedWindowLimiter() Limiter {
	return &localFixedWindowLimiter{
		store:   make(map[string]*fixedWindow),
		cleanup: time.Now().Add(time.Minute),
	}
}

func (rl *localFixedWindowLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, v := range rl.store {
			if now.Sub(v.windowStart) > 2*policy.SustainedWindow {
				delete(rl.store, k)
			}
		}
		rl.cleanup = now.Add(policy.SustainedWindow)
	}

	entry, ok := rl.store[key]
	if !ok || now.Sub(entry.windowStart) >= policy.SustainedWindow {
		rl.store[key] = &fixedWindow{count: 1, windowStart: now}
		return Decision{
			Allowed:   true,
			Remaining: policy.SustainedLimit - 1,
			ResetAt:   now.Add(policy.SustainedWindow),
		}, nil
	}
	resetAt := entry.windowStart.Add(policy.SustainedWindow)
	if entry.count >= policy.SustainedLimit {
		retryAfter := resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter, ResetAt: resetAt}, nil
	}
	entry.count++
	return Decision{
		Allowed:   true,
		Remaining: policy.SustainedLimit - entry.count,
		ResetAt:   resetAt,
	}, nil
}

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
	bypass  BypassEvaluator
}

func NewDistributedRateLimiter(limiter Limiter, policy RateLimitPolicy, mode FailureMode, scope string) *RateLimiter {
	return NewDistributedRateLimiterWithKey(limiter, policy, mode, scope, nil)
}

func NewDistributedRateLimiterWithKey(
	limiter Limiter,
	policy RateLimitPolicy,
	mode FailureMode,
	scope string,
	keyFunc func(r *http.Request) string,
) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(policy),
		mode:    mode,
		scope:   scope,
		keyFunc: keyFunc,
	}
}

// WithBypass attaches a bypass evaluator. A nil evaluator leaves the limiter
// unchanged, so the router can pass the constructor result straight through.
func (rl *RateLimiter) WithBypass(eval BypassEvaluator) *RateLimiter {
	rl.bypass = eval
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.bypass != nil {
				if skip, reason := rl.bypass(r); skip {
					observability.RecordRateLimitDecision(r.Context(), rl.scope, "bypassed")
					slog.Debug("rate limit bypassed", "scope", rl.scope, "reason", reason)
					next.ServeHTTP(w, r)
					return
				}
			}
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), key, rl.policy)
			if err != nil {
				if rl.mode == FailOpen {
					observability.RecordRateLimitDecision(r.Context(), rl.scope, "error_allowed")
					slog.Warn("rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"mode", string(rl.mode),
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "error_denied")
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.SustainedWindow))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "denied")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectOrIPKeyFunc keys the limiter on the token subject so one noisy user
// cannot exhaust a NAT'd office IP, falling back to the client IP whenever the
// request carries no parseable token.
func SubjectOrIPKeyFunc(jwtMgr *security.JWTManager) func(r *http.Request) string {
	return func(r *http.Request) string {
		if jwtMgr == nil {
			return clientIPKey(r)
		}
		raw := requestAccessToken(r)
		if raw == "" {
			return clientIPKey(r)
		}
		claims, err := jwtMgr.ParseAccessToken(raw)
		if err != nil || claims == nil {
			return clientIPKey(r)
		}
		subject := strings.TrimSpace(claims.Subject)
		if subject == "" {
			return clientIPKey(r)
		}
		return "sub:" + subject
	}
}

// requestAccessToken pulls the access token from the auth cookie or the
// Authorization header, cookie first to match the browser dashboard.
func requestAccessToken(r *http.Request) string {
	raw := security.GetCookie(r, "access_token")
	if raw != "" {
		return raw
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) >= len("bearer ")+1 && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func retryAfterHeader(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}
