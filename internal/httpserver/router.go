package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pocketllm-backend/internal/auth"
	"pocketllm-backend/internal/handlers"
	"pocketllm-backend/internal/metrics"
	"pocketllm-backend/internal/middleware"
)

type Options struct {
	Logger      *zap.Logger
	AuthService *auth.Service
	Runtime     *metrics.Runtime

	// RequestTimeout must cover a full streamed generation.
	RequestTimeout time.Duration
	MaxBodyBytes   int64

	Auth   *handlers.AuthHandler
	Chat   *handlers.ChatHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler
}

func SetupRouter(r *chi.Mux, opts Options) {

	r.Use(metrics.Middleware(opts.Runtime))

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(opts.Logger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	// public routes
	r.Post("/auth/login", opts.Auth.Login)
	r.Post("/auth/register", opts.Auth.Register)

	// authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(opts.AuthService))

		r.Post("/auth/password", opts.Auth.ChangePassword)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", opts.Chat.Chat)
			r.Post("/stream", opts.Chat.ChatStream)
			r.Get("/history", opts.Chat.History)
			r.Get("/history/{sessionID}", opts.Chat.SessionHistory)
			r.Delete("/history/{sessionID}", opts.Chat.DeleteSession)
		})

		// operator routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin())

			r.Get("/metrics", opts.Admin.Metrics)
			r.Get("/cache/stats", opts.Admin.CacheStats)
			r.Post("/cache/flush", opts.Admin.CacheFlush)
			r.Get("/model/info", opts.Admin.ModelInfo)
			r.Get("/sessions/count", opts.Admin.SessionCount)
			r.Post("/sessions/clear", opts.Admin.SessionsClear)
		})
	})

	// health check
	r.Get("/health", opts.Health.Health)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
