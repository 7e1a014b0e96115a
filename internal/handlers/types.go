package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"pocketllm-backend/internal/cache"
)

type ChatRequest struct {
	Prompt      string   `json:"prompt"`
	SessionID   string   `json:"session_id,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

type ChatResponse struct {
	MessageID  string    `json:"message_id"`
	SessionID  string    `json:"session_id"`
	Response   string    `json:"response"`
	TokensUsed int       `json:"tokens_used"`
	Cached     bool      `json:"cached"`
	Timestamp  time.Time `json:"timestamp"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type SystemMetrics struct {
	UptimeSeconds   float64     `json:"uptime_seconds"`
	TotalRequests   int64       `json:"total_requests"`
	ActiveSessions  int64       `json:"active_sessions"`
	Goroutines      int         `json:"goroutines"`
	MemoryAllocated uint64      `json:"memory_allocated_bytes"`
	CacheHitRate    float64     `json:"cache_hit_rate"`
	Cache           cache.Stats `json:"cache"`
}

type CacheFlushResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	EntriesFlushed int64  `json:"entries_flushed"`
}

type SessionCountResponse struct {
	TotalSessions int64 `json:"total_sessions"`
	TotalUsers    int64 `json:"total_users"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
