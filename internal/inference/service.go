// Package inference ties the prompt builder, the response cache and the
// model engine together into the per-request chat flow.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pocketllm-backend/internal/cache"
	"pocketllm-backend/internal/llm"
	"pocketllm-backend/internal/metrics"
	"pocketllm-backend/internal/prompt"
)

// ErrInvalidRequest marks programmer errors caught at the boundary: blank
// identifiers, blank prompts. These are rejected before the prompt builder
// ever runs.
var ErrInvalidRequest = errors.New("invalid inference request")

// EngineError wraps a model invocation failure. The cache layer never
// produces one of these: cache failures degrade silently, engine failures
// always propagate.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return "model inference failed: " + e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// TurnSource supplies a session's conversation turns prior to the
// just-submitted user message. The system instruction is never part of the
// returned turns.
type TurnSource interface {
	PriorTurns(ctx context.Context, sessionID string) ([]prompt.Turn, error)
}

type Config struct {
	SystemPrompt     string
	SyncHistoryMax   int // prior turns kept on the synchronous path
	StreamHistoryMax int // prior turns kept on the streaming path
	CacheTTL         time.Duration
	Sampling         llm.SamplingParams // defaults; overridable per request
}

// Request is one chat inference. Temperature and MaxTokens override the
// configured defaults when set.
type Request struct {
	UserID      string
	SessionID   string
	Prompt      string
	Temperature *float32
	MaxTokens   *int
}

type Result struct {
	Text       string
	Cached     bool
	TokensUsed int
}

// Delta is one increment of a streamed response. The channel closes after
// the final delta; a non-nil Err is terminal.
type Delta struct {
	Text string
	Err  error
}

type Service struct {
	cache  *cache.Manager
	engine llm.Engine
	turns  TurnSource
	cfg    Config
	logger *zap.Logger
}

func NewService(cacheManager *cache.Manager, engine llm.Engine, turns TurnSource, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:  cacheManager,
		engine: engine,
		turns:  turns,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "inference")),
	}
}

func (s *Service) validate(req Request) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return fmt.Errorf("%w: user id is empty", ErrInvalidRequest)
	case strings.TrimSpace(req.SessionID) == "":
		return fmt.Errorf("%w: session id is empty", ErrInvalidRequest)
	case strings.TrimSpace(req.Prompt) == "":
		return fmt.Errorf("%w: prompt is empty", ErrInvalidRequest)
	}
	return nil
}

// buildContext fetches prior turns, trims them to limit, and produces the
// final prompt text plus its cache key.
func (s *Service) buildContext(ctx context.Context, req Request, limit int) (promptText, cacheKey string, err error) {
	turns, err := s.turns.PriorTurns(ctx, req.SessionID)
	if err != nil {
		return "", "", fmt.Errorf("fetch session turns: %w", err)
	}

	prevResponse := lastAssistantResponse(turns)
	trimmed := prompt.TrimHistory(turns, limit)
	promptText = prompt.Build(s.cfg.SystemPrompt, trimmed, req.Prompt)
	cacheKey = prompt.CacheKey(req.UserID, req.SessionID, promptText, prevResponse)

	return promptText, cacheKey, nil
}

func lastAssistantResponse(turns []prompt.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == prompt.RoleAssistant {
			return turns[i].Content
		}
	}
	return ""
}

func (s *Service) sampling(req Request) llm.SamplingParams {
	params := s.cfg.Sampling
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		params.MaxTokens = *req.MaxTokens
	}
	return params
}

// Infer runs the synchronous chat flow: build context, check cache, call the
// model on a miss, cache the result. Cache trouble never surfaces; model
// trouble always does, as an *EngineError.
func (s *Service) Infer(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	promptText, cacheKey, err := s.buildContext(ctx, req, s.cfg.SyncHistoryMax)
	if err != nil {
		return nil, err
	}

	if cached, ok := s.cache.Get(ctx, cacheKey); ok {
		metrics.CacheHitsTotal.Inc()
		text := string(cached)
		return &Result{
			Text:       text,
			Cached:     true,
			TokensUsed: len(strings.Fields(text)),
		}, nil
	}

	start := time.Now()
	completion, err := s.engine.Generate(ctx, promptText, s.sampling(req))
	metrics.InferenceDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &EngineError{Err: err}
	}

	s.cache.Set(ctx, cacheKey, []byte(completion.Text), s.cfg.CacheTTL)

	tokens := completion.TokensPredicted
	if tokens == 0 {
		tokens = len(strings.Fields(completion.Text))
	}

	return &Result{
		Text:       completion.Text,
		Cached:     false,
		TokensUsed: tokens,
	}, nil
}

// StreamInfer runs the streaming chat flow. A cache hit is replayed as a
// single delta. On a miss the engine's tokens are forwarded as they arrive,
// and the full text is cached only when generation completes normally: a
// cancelled or failed stream never writes a cache entry.
func (s *Service) StreamInfer(ctx context.Context, req Request) (<-chan Delta, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	promptText, cacheKey, err := s.buildContext(ctx, req, s.cfg.StreamHistoryMax)
	if err != nil {
		return nil, err
	}

	out := make(chan Delta, 16)

	if cached, ok := s.cache.Get(ctx, cacheKey); ok {
		metrics.CacheHitsTotal.Inc()
		go func() {
			defer close(out)
			select {
			case <-ctx.Done():
			case out <- Delta{Text: string(cached)}:
			}
		}()
		return out, nil
	}

	results, err := s.engine.GenerateStream(ctx, promptText, s.sampling(req))
	if err != nil {
		return nil, &EngineError{Err: err}
	}

	go func() {
		defer close(out)

		start := time.Now()
		var full strings.Builder
		failed := false

		for res := range results {
			if res.Err != nil {
				failed = true
				select {
				case <-ctx.Done():
				case out <- Delta{Err: &EngineError{Err: res.Err}}:
				}
				break
			}

			full.WriteString(res.Delta)
			select {
			case <-ctx.Done():
				// Abandoned mid-stream; drain and drop the result.
				s.logger.Info("stream abandoned by caller",
					zap.String("session_id", req.SessionID),
				)
				return
			case out <- Delta{Text: res.Delta}:
			}
		}

		metrics.InferenceDurationSeconds.Observe(time.Since(start).Seconds())

		if failed || ctx.Err() != nil || full.Len() == 0 {
			return
		}

		// Full completion: this is the only point a streamed response is
		// cached.
		s.cache.Set(ctx, cacheKey, []byte(full.String()), s.cfg.CacheTTL)
	}()

	return out, nil
}
