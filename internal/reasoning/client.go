// Package reasoning implements triage.Reasoner against hosted LLM APIs.
package reasoning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Martian-dev/inbox-triage/internal/triage"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	defaultMaxTokens         = 1024
	defaultTimeout           = 60 * time.Second
	defaultRequestsPerMinute = 30
)

// Config configures a reasoning client
type Config struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
}

// New builds the client named by cfg.Provider
func New(cfg Config, memory Memory, logger *zap.Logger) (triage.Reasoner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reasoning api key is required")
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderAnthropic, "":
		return NewAnthropicClient(cfg, memory, logger), nil
	case ProviderOpenAI, "groq":
		return NewOpenAIClient(cfg, memory, logger), nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
}

// base holds the transport shared by every provider client
type base struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	memory  Memory
	logger  *zap.Logger
}

func newBase(cfg Config, memory Memory, logger *zap.Logger) base {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if memory == nil {
		memory = NopMemory{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		memory:  memory,
		logger:  logger,
	}
}

// complete runs one prompt through send, wrapping it with recalled memory
func (b *base) complete(ctx context.Context, prompt string, send func(context.Context, string) (string, error)) (string, error) {
	recalled, err := b.memory.Recall(ctx, prompt)
	if err != nil {
		b.logger.Warn("memory recall failed", zap.Error(err))
	} else if recalled != "" {
		prompt = recalled + "\n\n" + prompt
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	start := time.Now()
	text, err := send(ctx, prompt)
	if err != nil {
		return "", err
	}
	b.logger.Debug("completion received",
		zap.String("model", b.cfg.Model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("chars", len(text)))

	if err := b.memory.Remember(ctx, prompt, text); err != nil {
		b.logger.Warn("memory remember failed", zap.Error(err))
	}
	return text, nil
}

// postJSON sends body to url and decodes a 2xx response into out
func (b *base) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: triage.Truncate(string(respBody), 500)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// APIError is a non-2xx answer from the provider
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}
