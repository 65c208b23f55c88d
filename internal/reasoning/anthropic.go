package reasoning

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	anthropicBaseURL      = "https://api.anthropic.com"
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-5-20250929"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// AnthropicClient calls the Anthropic Messages API
type AnthropicClient struct {
	base
}

// NewAnthropicClient creates a Messages API client
func NewAnthropicClient(cfg Config, memory Memory, logger *zap.Logger) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &AnthropicClient{base: newBase(cfg, memory, logger)}
}

// Complete sends prompt as a single user turn and returns the joined text blocks
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, c.send)
}

func (c *AnthropicClient) send(ctx context.Context, prompt string) (string, error) {
	req := anthropicRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := c.postJSON(ctx, c.cfg.BaseURL+"/v1/messages", headers, req, &resp); err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic completion: empty response (stop_reason=%s)", resp.StopReason)
	}
	return strings.Join(parts, ""), nil
}
