package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pocketllm-backend/pkg/logging"
)

type claimsCtxKey struct{}

// ClaimsFromContext returns the authenticated claims attached by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey{}).(*Claims)
	return claims, ok
}

// ContextWithClaims attaches claims directly, bypassing token verification.
// Intended for tests.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, claims)
}

// Middleware rejects requests without a valid bearer token and attaches the
// verified claims to the request context.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				unauthorized(w)
				return
			}

			claims, err := svc.VerifyToken(token)
			if err != nil {
				logging.L(r.Context()).Debug("token rejected", zap.Error(err))
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsCtxKey{}, claims)
			ctx = logging.WithFields(ctx, zap.String("user_id", claims.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows only tokens with the admin flag. Must run after
// Middleware.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			if !claims.IsAdmin {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"admin access required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"invalid authentication credentials"}`))
}
