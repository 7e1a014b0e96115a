package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTurn(t *testing.T) {
	got := FormatTurn(RoleUser, "  hello there \n")
	assert.Equal(t, "<|user|>\nhello there</s>\n", got)
}

func TestBuildOrdering(t *testing.T) {
	history := []Turn{
		{Role: RoleUser, Content: "first question"},
		{Role: RoleAssistant, Content: "first answer"},
	}

	got := Build("be brief", history, "second question")

	want := "<|system|>\nbe brief</s>\n" +
		"<|user|>\nfirst question</s>\n" +
		"<|assistant|>\nfirst answer</s>\n" +
		"<|user|>\nsecond question</s>\n" +
		"<|assistant|>\n"
	assert.Equal(t, want, got)
}

func TestBuildSkipsBlankTurns(t *testing.T) {
	history := []Turn{
		{Role: RoleUser, Content: "   "},
		{Role: RoleAssistant, Content: "kept"},
	}

	got := Build("sys", history, "q")
	assert.NotContains(t, got, "<|user|>\n</s>")
	assert.Contains(t, got, "<|assistant|>\nkept</s>\n")
}

func TestTrimHistory(t *testing.T) {
	makeTurns := func(n int) []Turn {
		turns := make([]Turn, n)
		for i := range turns {
			role := RoleUser
			if i%2 == 1 {
				role = RoleAssistant
			}
			turns[i] = Turn{Role: role, Content: fmt.Sprintf("turn %d", i)}
		}
		return turns
	}

	tests := []struct {
		name      string
		n         int
		limit     int
		wantLen   int
		wantFirst string
	}{
		{"shorter than limit", 2, 5, 2, "turn 0"},
		{"equal to limit", 3, 3, 3, "turn 0"},
		{"longer than limit", 10, 3, 3, "turn 7"},
		{"zero limit", 4, 0, 0, ""},
		{"negative limit", 4, -1, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimHistory(makeTurns(tt.n), tt.limit)
			require.Len(t, got, tt.wantLen)
			if tt.wantLen > 0 {
				assert.Equal(t, tt.wantFirst, got[0].Content)
				// Relative order preserved: each element one turn after the last.
				last := got[len(got)-1]
				assert.Equal(t, fmt.Sprintf("turn %d", tt.n-1), last.Content)
			}
		})
	}
}

func TestTrimHistoryReturnsInputUnchangedWhenShort(t *testing.T) {
	turns := []Turn{{Role: RoleUser, Content: "only"}}
	got := TrimHistory(turns, 3)
	assert.Equal(t, turns, got)
}

func TestCacheKeyDeterministic(t *testing.T) {
	a := CacheKey("u1", "s1", "What happened?", "A")
	b := CacheKey("u1", "s1", "What happened?", "A")
	assert.Equal(t, a, b)
}

func TestCacheKeyEachFieldMatters(t *testing.T) {
	base := CacheKey("u1", "s1", "prompt", "prev")

	variants := map[string]string{
		"user":     CacheKey("u2", "s1", "prompt", "prev"),
		"session":  CacheKey("u1", "s2", "prompt", "prev"),
		"prompt":   CacheKey("u1", "s1", "other", "prev"),
		"previous": CacheKey("u1", "s1", "prompt", "other"),
		"no prev":  CacheKey("u1", "s1", "prompt", ""),
	}

	seen := map[string]string{base: "base"}
	for name, key := range variants {
		assert.NotEqual(t, base, key, "changing %s must change the key", name)
		if prior, dup := seen[key]; dup {
			t.Fatalf("variants %s and %s collided", prior, name)
		}
		seen[key] = name
	}
}

func TestCacheKeySamePromptDifferentPriorResponse(t *testing.T) {
	// Two requests in the same session asking "What happened?" after
	// different assistant responses must cache independently.
	afterA := CacheKey("u1", "s1", "What happened?", "A")
	afterB := CacheKey("u1", "s1", "What happened?", "B")
	assert.NotEqual(t, afterA, afterB)
}

func TestCacheKeyTrimsWhitespace(t *testing.T) {
	a := CacheKey("u1", "s1", "  padded  ", " prev ")
	b := CacheKey("u1", "s1", "padded", "prev")
	assert.Equal(t, a, b)
}

func TestCacheKeyShape(t *testing.T) {
	key := CacheKey("u1", "s1", "p", "")
	assert.Len(t, key, 64)
	assert.Equal(t, strings.ToLower(key), key)
}
