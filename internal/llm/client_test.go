package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Engine {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	eng, err := NewClient(Config{
		BaseURL:         srv.URL,
		ModelName:       "test-model",
		UpstreamTimeout: 5 * time.Second,
		BaseBackoff:     time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	return eng
}

func TestGenerate(t *testing.T) {
	eng := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/completion", r.URL.Path)

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, 64, req.NPredict)
		assert.NotEmpty(t, req.Stop)

		_ = json.NewEncoder(w).Encode(completionChunk{
			Content:         "  hello from the model  ",
			Stop:            true,
			TokensPredicted: 5,
		})
	})

	out, err := eng.Generate(context.Background(), "<|user|>\nhi</s>\n<|assistant|>\n", SamplingParams{MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "hello from the model", out.Text)
	assert.Equal(t, 5, out.TokensPredicted)
}

func TestGenerateStripsDialoguePrefix(t *testing.T) {
	eng := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionChunk{Content: "AI: sure thing", Stop: true})
	})

	out, err := eng.Generate(context.Background(), "p", SamplingParams{})
	require.NoError(t, err)
	assert.Equal(t, "sure thing", out.Text)
}

func TestGenerateRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	eng := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(completionChunk{Content: "recovered", Stop: true})
	})

	out, err := eng.Generate(context.Background(), "p", SamplingParams{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Text)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGenerateDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	eng := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := eng.Generate(context.Background(), "p", SamplingParams{})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGenerateStream(t *testing.T) {
	eng := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []completionChunk{
			{Content: "hel"},
			{Content: "lo"},
			{Stop: true, TokensPredicted: 2},
		} {
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	})

	results, err := eng.GenerateStream(context.Background(), "p", SamplingParams{})
	require.NoError(t, err)

	var text string
	for res := range results {
		require.NoError(t, res.Err)
		text += res.Delta
	}
	assert.Equal(t, "hello", text)
}

func TestGenerateStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	eng := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"first\"}\n\n")
		flusher.Flush()
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	results, err := eng.GenerateStream(ctx, "p", SamplingParams{})
	require.NoError(t, err)

	res := <-results
	require.NoError(t, res.Err)
	assert.Equal(t, "first", res.Delta)

	cancel()

	// Channel must close promptly after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-results:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("stream channel did not close after cancellation")
		}
	}
}

func TestMockEngine(t *testing.T) {
	eng := &MockEngine{}

	out, err := eng.Generate(context.Background(), "<|user|>\nwhat is go?</s>\n<|assistant|>\n", SamplingParams{})
	require.NoError(t, err)
	assert.Contains(t, out.Text, "what is go?")
	assert.Contains(t, out.Text, "[MOCK MODE]")

	results, err := eng.GenerateStream(context.Background(), "<|user|>\nhi</s>\n", SamplingParams{})
	require.NoError(t, err)

	var text string
	for res := range results {
		require.NoError(t, res.Err)
		text += res.Delta
	}
	assert.Contains(t, text, "hi")
}

func TestCleanResponse(t *testing.T) {
	assert.Equal(t, "hello", CleanResponse("Assistant: hello"))
	assert.Equal(t, "hello", CleanResponse("AI: hello"))
	assert.Equal(t, "plain", CleanResponse("plain"))
}
