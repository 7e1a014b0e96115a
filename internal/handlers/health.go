package handlers

import (
	"net/http"
	"time"

	"pocketllm-backend/internal/cache"
	"pocketllm-backend/internal/llm"
	"pocketllm-backend/internal/metrics"
)

// HealthHandler reports service liveness and which backends are in use.
type HealthHandler struct {
	cache   *cache.Manager
	engine  llm.Engine
	runtime *metrics.Runtime
}

func NewHealthHandler(cm *cache.Manager, engine llm.Engine, rt *metrics.Runtime) *HealthHandler {
	return &HealthHandler{cache: cm, engine: engine, runtime: rt}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	info := h.engine.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"model":          info.Name,
		"model_loaded":   info.Loaded,
		"cache_backend":  h.cache.Backend(),
		"uptime_seconds": h.runtime.Uptime().Round(time.Second).Seconds(),
	})
}
