// Package auth manages the OAuth2 client-credentials bearer token used
// by the LLM gateway.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cdoai/intentd/internal/cdoerr"
)

// refreshBuffer forces a refresh while the token is still technically
// valid, so in-flight requests never race expiry.
const refreshBuffer = 5 * time.Minute

// defaultExpiresIn applies when the provider omits expires_in.
const defaultExpiresIn = 3600

// Token is a process-lifetime cached bearer credential. Replaced
// wholesale on refresh, never partially mutated.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// tokenResponse is the provider's token endpoint payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenCache acquires and refreshes the bearer token. Refreshes are
// serialized: concurrent callers that find a stale token queue on the
// mutex and re-check validity before issuing their own request, so a
// burst produces exactly one token request.
type TokenCache struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu    sync.Mutex
	token *Token
	now   func() time.Time
}

// NewTokenCache creates a token cache for the given token endpoint and
// client credentials.
func NewTokenCache(tokenURL, clientID, clientSecret string, timeout time.Duration) *TokenCache {
	return &TokenCache{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
		now:          time.Now,
	}
}

// Token returns a valid bearer token, refreshing it when within the
// expiry buffer. A failed refresh is fatal for this caller but does not
// poison the cache; later callers retry from scratch.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid() {
		return c.token.AccessToken, nil
	}

	token, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token

	slog.Info("Acquired LLM auth token", "expires_at", token.ExpiresAt)
	return token.AccessToken, nil
}

// Invalidate discards the cached token, forcing the next caller to
// re-authenticate. Called by the gateway on HTTP 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

func (c *TokenCache) valid() bool {
	return c.token != nil && c.now().Before(c.token.ExpiresAt.Add(-refreshBuffer))
}

func (c *TokenCache) fetch(ctx context.Context) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return nil, cdoerr.Wrap(cdoerr.CodeAuth, "build token request", err)
	}

	credentials := base64.StdEncoding.EncodeToString(
		[]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, cdoerr.Wrap(cdoerr.CodeAuth, "token request failed", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close token response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, cdoerr.Auth(fmt.Sprintf("token endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, cdoerr.Wrap(cdoerr.CodeAuth, "decode token response", err)
	}
	if tr.AccessToken == "" {
		return nil, cdoerr.Auth("no access token received from auth endpoint")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	return &Token{
		AccessToken: tr.AccessToken,
		ExpiresAt:   c.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
