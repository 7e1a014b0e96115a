package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

func (c *client) GenerateStream(parentCtx context.Context, prompt string, params SamplingParams) (<-chan StreamResult, error) {
	if prompt == "" {
		return nil, fmt.Errorf("llmclient: prompt is empty")
	}
	if len(prompt) > maxPromptSize {
		return nil, fmt.Errorf("llmclient: prompt too large (%d bytes, max %d)", len(prompt), maxPromptSize)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)

	results := make(chan StreamResult, 16)

	go func() {
		defer close(results)
		defer cancel()

		bodyBytes, err := json.Marshal(buildCompletionRequest(prompt, params, true))
		if err != nil {
			results <- StreamResult{Err: fmt.Errorf("llmclient: marshal stream request: %w", err)}
			return
		}

		url := c.cfg.BaseURL + "/completion"

		doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("llmclient: build HTTP stream request: %w", err)
			}
			httpReq.Header.Set("Content-Type", "application/json")
			return c.httpClient.Do(httpReq)
		}

		// Retries apply to connecting only; a broken stream is surfaced,
		// never resumed.
		resp, err := c.doWithRetry(ctx, bodyBytes, doOnce)
		if err != nil {
			c.logger.Error("llm stream connect failed", zap.Error(err))
			results <- StreamResult{Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			c.logger.Error("llm stream upstream error",
				zap.Int("status", resp.StatusCode),
				zap.String("body", truncate(string(body), 200)),
			)
			results <- StreamResult{Err: fmt.Errorf("llmclient: upstream stream %d: %s",
				resp.StatusCode, truncate(string(body), 200))}
			return
		}

		reader := bufio.NewReader(resp.Body)
		tokenCount := 0
		first := true

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("llm stream cancelled",
					zap.Int("tokens", tokenCount),
					zap.Error(ctx.Err()),
				)
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					c.logger.Info("llm stream completed", zap.Int("tokens", tokenCount))
					return
				}
				results <- StreamResult{Err: fmt.Errorf("llmclient: read stream line: %w", err)}
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			const prefix = "data: "
			if !bytes.HasPrefix(line, []byte(prefix)) {
				continue
			}

			var chunk completionChunk
			if err := json.Unmarshal(bytes.TrimSpace(line[len(prefix):]), &chunk); err != nil {
				results <- StreamResult{Err: fmt.Errorf("llmclient: unmarshal stream chunk: %w", err)}
				return
			}

			delta := chunk.Content
			if first && delta != "" {
				// The model occasionally opens with a dialogue prefix
				// despite the system instruction; strip it from the first
				// token only.
				delta = CleanResponse(delta)
				first = false
			}

			if delta != "" {
				tokenCount++
				select {
				case <-ctx.Done():
					c.logger.Info("llm stream cancelled while sending token",
						zap.Int("tokens", tokenCount),
						zap.Error(ctx.Err()),
					)
					return
				case results <- StreamResult{Delta: delta}:
				}
			}

			if chunk.Stop {
				c.logger.Info("llm stream completed", zap.Int("tokens", tokenCount))
				return
			}
		}
	}()

	return results, nil
}
