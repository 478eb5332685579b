package middleware

import (
	"context"
	"net/http"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/http/response"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/security"
)

type contextKey string

const claimsContextKey contextKey = "auth.claims"

// ClaimsFromContext returns the verified access-token claims stored by
// RequireAuth. The second return is false on routes outside the auth chain.
func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*security.Claims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}

// ContextWithClaims exists for handler tests that bypass the middleware chain.
func ContextWithClaims(ctx context.Context, claims *security.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// RequireAuth verifies the access token from the auth cookie or Authorization
// header and stores its claims on the request context. Requests without a
// valid token never reach the wrapped handler.
func RequireAuth(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := requestAccessToken(r)
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired access token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}
