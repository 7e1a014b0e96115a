package handlers

import (
	"net/http"
	"runtime"

	"go.uber.org/zap"

	"pocketllm-backend/internal/cache"
	"pocketllm-backend/internal/llm"
	"pocketllm-backend/internal/metrics"
	"pocketllm-backend/internal/session"
	"pocketllm-backend/pkg/logging"
)

// AdminHandler serves the operator endpoints. All routes require an admin
// token.
type AdminHandler struct {
	cache    *cache.Manager
	engine   llm.Engine
	sessions *session.Store
	runtime  *metrics.Runtime
}

func NewAdminHandler(cm *cache.Manager, engine llm.Engine, sessions *session.Store, rt *metrics.Runtime) *AdminHandler {
	return &AdminHandler{cache: cm, engine: engine, sessions: sessions, runtime: rt}
}

// Metrics handles GET /admin/metrics.
func (h *AdminHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	active, err := h.sessions.CountSessions(ctx)
	if err != nil {
		logging.L(ctx).Error("count sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect metrics")
		return
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats := h.cache.Stats(ctx)
	writeJSON(w, http.StatusOK, SystemMetrics{
		UptimeSeconds:   h.runtime.Uptime().Seconds(),
		TotalRequests:   h.runtime.TotalRequests(),
		ActiveSessions:  active,
		Goroutines:      runtime.NumGoroutine(),
		MemoryAllocated: mem.Alloc,
		CacheHitRate:    stats.HitRate,
		Cache:           stats,
	})
}

// CacheStats handles GET /admin/cache/stats.
func (h *AdminHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

// CacheFlush handles POST /admin/cache/flush.
func (h *AdminHandler) CacheFlush(w http.ResponseWriter, r *http.Request) {
	flushed := h.cache.Flush(r.Context())
	logging.L(r.Context()).Info("cache flushed", zap.Int64("entries", flushed))
	writeJSON(w, http.StatusOK, CacheFlushResponse{
		Success:        true,
		Message:        "cache flushed",
		EntriesFlushed: flushed,
	})
}

// ModelInfo handles GET /admin/model/info.
func (h *AdminHandler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Info())
}

// SessionCount handles GET /admin/sessions/count.
func (h *AdminHandler) SessionCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := h.sessions.CountSessions(ctx)
	if err != nil {
		logging.L(ctx).Error("count sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count sessions")
		return
	}
	users, err := h.sessions.CountUsers(ctx)
	if err != nil {
		logging.L(ctx).Error("count users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count users")
		return
	}
	writeJSON(w, http.StatusOK, SessionCountResponse{TotalSessions: sessions, TotalUsers: users})
}

// SessionsClear handles POST /admin/sessions/clear.
func (h *AdminHandler) SessionsClear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sessions.ClearAll(r.Context())
	if err != nil {
		logging.L(r.Context()).Error("clear sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear sessions")
		return
	}
	logging.L(r.Context()).Info("sessions cleared", zap.Int64("removed", removed))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions_removed": removed})
}
