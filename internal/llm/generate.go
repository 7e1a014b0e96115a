package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxPromptSize = 2 * 1024 * 1024 // 2MB prompt text

func (c *client) Generate(parentCtx context.Context, prompt string, params SamplingParams) (*Completion, error) {
	start := time.Now()

	if prompt == "" {
		return nil, fmt.Errorf("llmclient: prompt is empty")
	}
	if len(prompt) > maxPromptSize {
		return nil, fmt.Errorf("llmclient: prompt too large (%d bytes, max %d)", len(prompt), maxPromptSize)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(buildCompletionRequest(prompt, params, false))
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}

	url := c.cfg.BaseURL + "/completion"

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	resp, err := c.doWithRetry(ctx, bodyBytes, doOnce)
	if err != nil {
		c.logger.Error("llm request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("llm upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 200)),
		)
		return nil, fmt.Errorf("llmclient: upstream %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var chunk completionChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("llmclient: decode upstream response: %w", err)
	}

	text := CleanResponse(strings.TrimSpace(chunk.Content))

	c.logger.Info("llm request completed",
		zap.Int("tokens_predicted", chunk.TokensPredicted),
		zap.Duration("duration", time.Since(start)),
	)

	return &Completion{
		Text:            text,
		TokensPredicted: chunk.TokensPredicted,
	}, nil
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
