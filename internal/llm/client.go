// Package llm provides the chat-completion gateway to the model backend.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cdoai/intentd/internal/cdoerr"
)

// ChatMessage is one entry of a completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports provider token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of a completion call. Success=false with a nil
// error means the provider returned no choices; callers must branch on
// it separately from transport failures.
type Result struct {
	Success bool
	Content string
	Usage   Usage
	Model   string
}

// Gateway is the completion interface consumed by the classifier and the
// orchestrator. Implemented by Client and by test stubs.
type Gateway interface {
	Complete(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (*Result, error)
}

// TokenSource supplies and invalidates bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client calls the chat-completions endpoint with bearer auth, a single
// 401-triggered re-auth retry, and typed failure translation.
type Client struct {
	endpoint   string
	model      string
	apiVersion string
	appKey     string
	maxRetries int
	timeout    time.Duration

	tokens     TokenSource
	httpClient *http.Client
}

// Config holds gateway settings.
type Config struct {
	Endpoint   string
	Model      string
	APIVersion string
	AppKey     string
	MaxRetries int
	Timeout    time.Duration
}

// NewClient creates a completion client over the given token source.
func NewClient(cfg Config, tokens TokenSource) *Client {
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiVersion: cfg.APIVersion,
		appKey:     cfg.AppKey,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type completionRequest struct {
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
	Model       string        `json:"model"`
	User        string        `json:"user,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage  `json:"usage"`
	Model string `json:"model"`
}

// Complete sends a chat-completion request. On HTTP 401 the cached token
// is invalidated and the call retried once per attempt budget; a second
// 401 propagates as a connection error.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, retry, err := c.attempt(ctx, messages, temperature, maxTokens)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		slog.Warn("Token rejected by completion endpoint, re-authenticating", "attempt", attempt+1)
		c.tokens.Invalidate()
	}
	return nil, cdoerr.Connection("authentication retries exhausted", lastErr)
}

// attempt performs a single request. The middle return value signals a
// 401 that warrants one re-auth retry.
func (c *Client) attempt(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (*Result, bool, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, false, err
	}

	payload := completionRequest{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      false,
		Model:       c.model,
		User:        c.appKey,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal completion request: %w", err)
	}

	url := c.endpoint + "/chat/completions"
	if c.apiVersion != "" {
		url += "?api-version=" + c.apiVersion
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, false, cdoerr.Timeout(fmt.Sprintf("LLM request timed out after %s", c.timeout)).
				WithDetail("timeout", c.timeout.String())
		}
		return nil, false, cdoerr.Connection("completion request failed", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close completion response body", "error", closeErr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, true, cdoerr.Connection("completion endpoint returned 401", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, false, cdoerr.RateLimit("completion endpoint rate limited the request").
			WithDetail("retry_after", resp.Header.Get("Retry-After"))
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, cdoerr.Connection(
			fmt.Sprintf("completion endpoint returned %d: %s", resp.StatusCode,
				strings.TrimSpace(string(snippet))), nil)
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, false, cdoerr.Connection("decode completion response", err)
	}

	model := cr.Model
	if model == "" {
		model = c.model
	}

	// Zero choices is a "no content" outcome, not a transport failure.
	if len(cr.Choices) == 0 {
		return &Result{Success: false, Usage: cr.Usage, Model: model}, false, nil
	}

	return &Result{
		Success: true,
		Content: strings.TrimSpace(cr.Choices[0].Message.Content),
		Usage:   cr.Usage,
		Model:   model,
	}, false, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
