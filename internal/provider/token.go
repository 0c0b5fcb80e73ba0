package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"helpdesk/backend/internal/domain"
)

// Token 服务商令牌端点返回的新令牌对。
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // 秒
	TokenType    string `json:"token_type"`
}

// TokenClient 服务商 OAuth 令牌端点客户端。
type TokenClient struct {
	endpoint string
	http     *http.Client
}

// NewTokenClient 创建令牌端点客户端。
func NewTokenClient(endpoint string, timeout time.Duration) *TokenClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TokenClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Refresh 用刷新令牌换取新的访问/刷新令牌对。
func (c *TokenClient) Refresh(ctx context.Context, credential *domain.Credential) (*Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {credential.RefreshToken},
		"client_id":     {credential.ClientID},
		"client_secret": {credential.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &token, nil
}
