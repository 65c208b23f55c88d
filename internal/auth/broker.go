package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

// Provider represents OAuth providers
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// Token represents OAuth tokens
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// OAuth2 converts t for use with golang.org/x/oauth2
func (t *Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       t.Expiry,
	}
}

// BrokerClient fetches provider OAuth tokens from a token broker that
// owns storage and refresh
type BrokerClient struct {
	baseURL string
	client  *http.Client
}

// NewBrokerClient creates client to fetch tokens from the broker
func NewBrokerClient(brokerURL string) *BrokerClient {
	return &BrokerClient{
		baseURL: brokerURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetToken fetches the provider token on behalf of userJWT
func (c *BrokerClient) GetToken(ctx context.Context, userJWT string, provider Provider) (*Token, error) {
	url := fmt.Sprintf("%s/api/auth/accounts/%s/token", c.baseURL, provider)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+userJWT)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no %s account connected", provider)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"` // unix timestamp
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	tok := &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}
	// zero expires_at means the broker did not say; leave Expiry unset
	if result.ExpiresAt > 0 {
		tok.Expiry = time.Unix(result.ExpiresAt, 0)
	}
	return tok, nil
}

// TokenSource returns an oauth2.TokenSource that asks the broker again
// whenever the cached token expires
func (c *BrokerClient) TokenSource(ctx context.Context, userJWT string, provider Provider) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &brokerSource{
		ctx:      ctx,
		client:   c,
		userJWT:  userJWT,
		provider: provider,
	})
}

type brokerSource struct {
	mu       sync.Mutex
	ctx      context.Context
	client   *BrokerClient
	userJWT  string
	provider Provider
}

func (s *brokerSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.client.GetToken(s.ctx, s.userJWT, s.provider)
	if err != nil {
		return nil, err
	}
	return tok.OAuth2(), nil
}
