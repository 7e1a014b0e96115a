// Package prompt contains the pure functions that decide exactly what text
// is handed to the model and which cache key identifies its response.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a conversation as seen by the prompt builder.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FormatTurn wraps content in the chat template the deployed model was
// instruction-tuned on (TinyLlama-Chat). Using any other template measurably
// degrades response quality, so this format is a contract, not a cosmetic
// choice.
func FormatTurn(role, content string) string {
	return fmt.Sprintf("<|%s|>\n%s</s>\n", role, strings.TrimSpace(content))
}

// Build assembles the final prompt text: the system instruction first, then
// the (already trimmed) history with blank turns skipped, then the new user
// turn, ending with the open assistant cue the model completes.
func Build(system string, history []Turn, userPrompt string) string {
	var b strings.Builder

	b.WriteString(FormatTurn(RoleSystem, system))

	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		b.WriteString(FormatTurn(turn.Role, turn.Content))
	}

	b.WriteString(FormatTurn(RoleUser, userPrompt))
	b.WriteString("<|assistant|>\n")

	return b.String()
}

// TrimHistory returns at most the last limit turns in their original order,
// dropping the oldest first. The system instruction must not be part of
// turns; callers prepend it after trimming so it can never be dropped.
func TrimHistory(turns []Turn, limit int) []Turn {
	if limit <= 0 {
		return nil
	}
	if len(turns) <= limit {
		return turns
	}
	return turns[len(turns)-limit:]
}

// cacheKeyFields is serialized with a fixed field order so the key is
// deterministic across processes. PrevResponse is a pointer: nil encodes an
// explicit null when there is no prior assistant response, which must hash
// differently from an empty string ever appearing as content.
type cacheKeyFields struct {
	PrevResponse *string `json:"prev_response"`
	Prompt       string  `json:"prompt"`
	SessionID    string  `json:"session_id"`
	UserID       string  `json:"user_id"`
}

// CacheKey derives the deterministic cache key for one inference: identical
// inputs always yield the same key, and any one differing field yields a
// different key. Hashing only the prompt would collapse distinct
// conversations asking the same question into one entry and serve
// contextually wrong answers; session and prior-response scoping trades hit
// rate for correctness on purpose.
func CacheKey(userID, sessionID, promptText, prevResponse string) string {
	fields := cacheKeyFields{
		Prompt:    strings.TrimSpace(promptText),
		SessionID: sessionID,
		UserID:    userID,
	}
	if trimmed := strings.TrimSpace(prevResponse); trimmed != "" {
		fields.PrevResponse = &trimmed
	}

	// encoding/json emits struct fields in declaration order, which makes
	// this a canonical serialization.
	data, err := json.Marshal(fields)
	if err != nil {
		// Marshal of a struct of strings cannot fail; keep the signature
		// pure rather than plumbing an impossible error.
		panic(err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
