package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"pocketllm-backend/internal/auth"
	"pocketllm-backend/internal/cache"
	"pocketllm-backend/internal/config"
	"pocketllm-backend/internal/handlers"
	"pocketllm-backend/internal/httpserver"
	"pocketllm-backend/internal/inference"
	"pocketllm-backend/internal/llm"
	"pocketllm-backend/internal/metrics"
	"pocketllm-backend/internal/session"
	"pocketllm-backend/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("pocketd exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()
	rt := metrics.NewRuntime()

	// ----- Config -----
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("config load failed", zap.Error(err))
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Server.Port),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("model_base_url", cfg.Model.BaseURL),
		zap.String("db_path", cfg.DBPath),
	)

	// ----- Database (users + sessions share one file) -----
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		logger.Error("open database failed", zap.Error(err))
		return err
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	sessions, err := session.NewWithDB(db)
	if err != nil {
		logger.Error("session store init failed", zap.Error(err))
		return err
	}

	authSvc, err := auth.NewService(db, auth.Config{
		SecretKey:   cfg.Auth.SecretKey,
		TokenExpiry: cfg.Auth.TokenExpiry,
	}, logger)
	if err != nil {
		logger.Error("auth service init failed", zap.Error(err))
		return err
	}

	// ----- Cache (redis with in-memory fallback) -----
	cacheManager := cache.NewManager(cache.Config{
		Enabled:          cfg.Cache.Enabled,
		RedisAddr:        cfg.Redis.Addr,
		RedisPassword:    cfg.Redis.Password,
		RedisDB:          cfg.Redis.DB,
		TTL:              cfg.Cache.TTL,
		MemoryMaxEntries: cfg.Cache.MemoryMaxEntries,
	}, logger)
	defer cacheManager.Close()

	// ----- Model engine -----
	var engine llm.Engine
	if cfg.Model.BaseURL != "" {
		engine, err = llm.NewClient(llm.Config{
			BaseURL:         cfg.Model.BaseURL,
			ModelName:       cfg.Model.Name,
			UpstreamTimeout: cfg.Model.Timeout,
		}, logger)
		if err != nil {
			logger.Error("model client init failed", zap.Error(err))
			return err
		}
	} else {
		logger.Warn("no model base URL configured, running in mock mode")
		engine = &llm.MockEngine{Delay: 50 * time.Millisecond}
	}

	// ----- Inference service -----
	svc := inference.NewService(cacheManager, engine, handlers.NewTurnSource(sessions), inference.Config{
		SystemPrompt:     cfg.Chat.SystemPrompt,
		SyncHistoryMax:   cfg.Chat.SyncHistoryMax,
		StreamHistoryMax: cfg.Chat.StreamHistoryMax,
		CacheTTL:         cfg.Cache.TTL,
		Sampling: llm.SamplingParams{
			Temperature: cfg.Model.Temperature,
			TopP:        cfg.Model.TopP,
			MaxTokens:   cfg.Model.MaxTokens,
		},
	}, logger)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.Options{
		Logger:         logger,
		AuthService:    authSvc,
		Runtime:        rt,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Auth:           handlers.NewAuthHandler(authSvc),
		Chat:           handlers.NewChatHandler(svc, sessions),
		Admin:          handlers.NewAdminHandler(cacheManager, engine, sessions, rt),
		Health:         handlers.NewHealthHandler(cacheManager, engine, rt),
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Write timeout must cover a full streamed generation.
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting server",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cacheManager.Backend()),
		zap.String("model", engine.Info().Name),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
