package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pocketllm-backend/pkg/logging"
)

// Timeout cancels the request context after d. Handlers are expected to
// notice ctx.Done() themselves; streaming responses cannot be buffered, so
// this only arms the deadline instead of hijacking the writer.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))

			if ctx.Err() == context.DeadlineExceeded {
				logging.L(ctx).Warn("request deadline exceeded", zap.Duration("timeout", d))
			}
		})
	}
}

// MaxBodySize caps the request body size.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
