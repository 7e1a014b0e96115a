package llm

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	// BaseURL of the llama.cpp server, e.g. http://127.0.0.1:8080.
	BaseURL string

	// ModelName is reported through Info; the server itself decides which
	// weights are loaded.
	ModelName string

	UpstreamTimeout time.Duration // per-request timeout (default: 90s)
	MaxRetries      int           // retry attempts on transient failures (default: 2)
	BaseBackoff     time.Duration // initial backoff (default: 100ms)

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	return nil
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 90 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}

	return cfg
}

type client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an Engine backed by a llama.cpp server.
func NewClient(cfg Config, logger *zap.Logger) (Engine, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(),
		}
	}

	return &client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("llmclient"),
	}, nil
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (c *client) Info() ModelInfo {
	return ModelInfo{
		Name:    c.cfg.ModelName,
		BaseURL: c.cfg.BaseURL,
		Loaded:  true,
	}
}

// Close releases resources held by the client.
func (c *client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// completionRequest is the llama.cpp server /completion payload.
type completionRequest struct {
	Prompt        string   `json:"prompt"`
	NPredict      int      `json:"n_predict,omitempty"`
	Temperature   float32  `json:"temperature,omitempty"`
	TopP          float32  `json:"top_p,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	RepeatPenalty float32  `json:"repeat_penalty,omitempty"`
	Stream        bool     `json:"stream,omitempty"`
}

// completionChunk is both the non-streaming response body and the payload of
// each streamed SSE data event.
type completionChunk struct {
	Content         string `json:"content"`
	Stop            bool   `json:"stop"`
	TokensPredicted int    `json:"tokens_predicted"`
}

func buildCompletionRequest(prompt string, params SamplingParams, stream bool) completionRequest {
	stop := params.Stop
	if len(stop) == 0 {
		stop = DefaultStopTokens
	}
	return completionRequest{
		Prompt:        prompt,
		NPredict:      params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		Stop:          stop,
		RepeatPenalty: 1.1,
		Stream:        stream,
	}
}
