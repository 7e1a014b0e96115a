// Package llm talks to the external model engine: a llama.cpp server over
// HTTP in production, a mock engine in development and tests. The engine is
// a single opaque generate call; model loading, batching and placement are
// the server's problem.
package llm

import (
	"context"
	"strings"
)

// SamplingParams are pass-through generation settings. They are decided by
// the caller, never by this package.
type SamplingParams struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
	Stop        []string
}

// Completion is the result of a non-streaming generate call.
type Completion struct {
	Text            string
	TokensPredicted int
}

// StreamResult carries one streamed token or a terminal error. The channel
// closes after the final token on normal completion.
type StreamResult struct {
	Delta string
	Err   error
}

// ModelInfo describes the configured engine for the admin surface.
type ModelInfo struct {
	Name        string  `json:"name"`
	BaseURL     string  `json:"base_url"`
	Loaded      bool    `json:"loaded"`
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// Engine is the inference backend.
type Engine interface {
	Generate(ctx context.Context, prompt string, params SamplingParams) (*Completion, error)
	GenerateStream(ctx context.Context, prompt string, params SamplingParams) (<-chan StreamResult, error)
	Info() ModelInfo
}

// DefaultStopTokens end generation before the model starts a new dialogue
// turn on its own.
var DefaultStopTokens = []string{"</s>", "<|user|>", "<|system|>", "\nUser:", "\nAI:", "\nAssistant:"}

var dialoguePrefixes = []string{"AI:", "AI :", "Assistant:", "Assistant :", "A:", "A :", "User:", "User :"}

// CleanResponse strips a leading dialogue prefix the model sometimes emits
// despite the system instruction.
func CleanResponse(text string) string {
	for _, prefix := range dialoguePrefixes {
		if strings.HasPrefix(text, prefix) {
			return strings.TrimLeft(text[len(prefix):], " \t")
		}
	}
	return text
}
