package reasoning

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	openAIBaseURL      = "https://api.groq.com/openai/v1"
	openAIDefaultModel = "llama-3.3-70b-versatile"
)

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// OpenAIClient calls any OpenAI-compatible chat completions endpoint.
// The default base URL points at Groq.
type OpenAIClient struct {
	base
}

func NewOpenAIClient(cfg Config, memory Memory, logger *zap.Logger) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &OpenAIClient{base: newBase(cfg, memory, logger)}
}

// Complete sends prompt as a single user message
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, c.send)
}

func (c *OpenAIClient) send(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	var resp chatResponse
	if err := c.postJSON(ctx, c.cfg.BaseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
