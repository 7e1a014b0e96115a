package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pocketllm-backend/internal/auth"
	"pocketllm-backend/internal/inference"
	"pocketllm-backend/internal/metrics"
	"pocketllm-backend/internal/prompt"
	"pocketllm-backend/internal/session"
	"pocketllm-backend/pkg/logging"
)

// ChatHandler serves the conversational endpoints. Each request resolves a
// session, records the user turn, runs inference and records the reply.
type ChatHandler struct {
	svc      *inference.Service
	sessions *session.Store
}

func NewChatHandler(svc *inference.Service, sessions *session.Store) *ChatHandler {
	return &ChatHandler{svc: svc, sessions: sessions}
}

// sessionTurns exposes stored messages as conversation history. The user turn
// for the in-flight request is already persisted when inference runs, so the
// trailing user message is dropped here and passed as the live prompt instead.
type sessionTurns struct {
	store *session.Store
}

func (s sessionTurns) PriorTurns(ctx context.Context, sessionID string) ([]prompt.Turn, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	msgs := sess.Messages
	if n := len(msgs); n > 0 && msgs[n-1].Role == prompt.RoleUser {
		msgs = msgs[:n-1]
	}
	turns := make([]prompt.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, prompt.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

// NewTurnSource adapts the session store for the inference service.
func NewTurnSource(store *session.Store) inference.TurnSource {
	return sessionTurns{store: store}
}

// resolveSession returns an existing session owned by the caller, or creates
// a fresh one when no session ID was supplied.
func (h *ChatHandler) resolveSession(ctx context.Context, userID, sessionID string) (string, error) {
	if sessionID == "" {
		return h.sessions.CreateSession(ctx, userID)
	}
	sess, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.UserID != userID {
		return "", session.ErrAccessDenied
	}
	return sessionID, nil
}

func (h *ChatHandler) prepare(w http.ResponseWriter, r *http.Request) (*auth.Claims, *ChatRequest, string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return nil, nil, "", false
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, "", false
	}
	sessionID, err := h.resolveSession(r.Context(), claims.Subject, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, session.ErrAccessDenied):
			writeError(w, http.StatusForbidden, "session belongs to another user")
		default:
			logging.L(r.Context()).Error("resolve session", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "session lookup failed")
		}
		return nil, nil, "", false
	}
	return claims, &req, sessionID, true
}

// Chat handles POST /chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, req, sessionID, ok := h.prepare(w, r)
	if !ok {
		return
	}
	metrics.ChatRequestsTotal.WithLabelValues("sync").Inc()

	if _, err := h.sessions.AppendMessage(ctx, sessionID, claims.Subject, prompt.RoleUser, req.Prompt, nil); err != nil {
		logging.L(ctx).Error("persist user message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	result, err := h.svc.Infer(ctx, inference.Request{
		UserID:      claims.Subject,
		SessionID:   sessionID,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		h.writeInferError(ctx, w, err)
		return
	}

	msg, err := h.sessions.AppendMessage(ctx, sessionID, claims.Subject, prompt.RoleAssistant, result.Text, &result.TokensUsed)
	if err != nil {
		logging.L(ctx).Error("persist assistant message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store response")
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		MessageID:  msg.MessageID,
		SessionID:  sessionID,
		Response:   result.Text,
		TokensUsed: result.TokensUsed,
		Cached:     result.Cached,
		Timestamp:  msg.CreatedAt,
	})
}

type streamEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChatStream handles POST /chat/stream, sending the response token by token
// as server-sent events. The assistant turn is only persisted once the full
// response has been generated.
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, req, sessionID, ok := h.prepare(w, r)
	if !ok {
		return
	}
	metrics.ChatRequestsTotal.WithLabelValues("stream").Inc()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if _, err := h.sessions.AppendMessage(ctx, sessionID, claims.Subject, prompt.RoleUser, req.Prompt, nil); err != nil {
		logging.L(ctx).Error("persist user message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	deltas, err := h.svc.StreamInfer(ctx, inference.Request{
		UserID:      claims.Subject,
		SessionID:   sessionID,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		h.writeInferError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(ev streamEvent) {
		data, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send(streamEvent{Type: "start", SessionID: sessionID})

	var full []byte
	failed := false
	for d := range deltas {
		if d.Err != nil {
			logging.L(ctx).Warn("stream aborted", zap.Error(d.Err))
			send(streamEvent{Type: "error", Error: "model inference failed"})
			failed = true
			break
		}
		full = append(full, d.Text...)
		send(streamEvent{Type: "token", Content: d.Text})
	}
	if failed || ctx.Err() != nil || len(full) == 0 {
		return
	}

	tokens := len(strings.Fields(string(full)))
	msg, err := h.sessions.AppendMessage(ctx, sessionID, claims.Subject, prompt.RoleAssistant, string(full), &tokens)
	if err != nil {
		logging.L(ctx).Error("persist assistant message", zap.Error(err))
		send(streamEvent{Type: "error", Error: "failed to store response"})
		return
	}
	send(streamEvent{Type: "done", SessionID: sessionID, MessageID: msg.MessageID})
}

// History handles GET /chat/history, listing the caller's sessions.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	sessions, err := h.sessions.ListSessions(r.Context(), claims.Subject)
	if err != nil {
		logging.L(r.Context()).Error("list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// SessionHistory handles GET /chat/history/{sessionID}.
func (h *ChatHandler) SessionHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		logging.L(r.Context()).Error("load session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess.UserID != claims.Subject {
		writeError(w, http.StatusForbidden, "session belongs to another user")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /chat/history/{sessionID}.
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	err := h.sessions.DeleteSession(r.Context(), sessionID, claims.Subject)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "session_id": sessionID})
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "session belongs to another user")
	default:
		logging.L(r.Context()).Error("delete session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete session")
	}
}

func (h *ChatHandler) writeInferError(ctx context.Context, w http.ResponseWriter, err error) {
	var engineErr *inference.EngineError
	switch {
	case errors.Is(err, inference.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &engineErr):
		logging.L(ctx).Error("inference failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "model inference failed")
	default:
		logging.L(ctx).Error("inference failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "inference failed")
	}
}
