package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockEngine answers without a model server. Used when no base URL is
// configured so the rest of the stack stays exercisable, and in tests.
type MockEngine struct {
	// Delay between streamed words, to simulate generation. Zero in tests.
	Delay time.Duration
}

func (m *MockEngine) response(prompt string) string {
	query := "your question"
	if idx := strings.LastIndex(prompt, "<|user|>"); idx >= 0 {
		rest := prompt[idx+len("<|user|>"):]
		if end := strings.Index(rest, "</s>"); end >= 0 {
			rest = rest[:end]
		}
		rest = strings.TrimSpace(rest)
		if rest != "" {
			if len(rest) > 50 {
				rest = rest[:50]
			}
			query = rest
		}
	}
	return fmt.Sprintf("[MOCK MODE] You asked: '%s'. No model server is configured; set MODEL_BASE_URL to a running llama.cpp server.", query)
}

func (m *MockEngine) Generate(ctx context.Context, prompt string, _ SamplingParams) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := m.response(prompt)
	return &Completion{
		Text:            text,
		TokensPredicted: len(strings.Fields(text)),
	}, nil
}

func (m *MockEngine) GenerateStream(ctx context.Context, prompt string, _ SamplingParams) (<-chan StreamResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.Fields(m.response(prompt))
	results := make(chan StreamResult)

	go func() {
		defer close(results)
		for i, word := range words {
			if m.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.Delay):
				}
			}
			delta := word
			if i > 0 {
				delta = " " + word
			}
			select {
			case <-ctx.Done():
				return
			case results <- StreamResult{Delta: delta}:
			}
		}
	}()

	return results, nil
}

func (m *MockEngine) Info() ModelInfo {
	return ModelInfo{Name: "mock", Loaded: false}
}
