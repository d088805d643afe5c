package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cdoai/intentd/internal/cdoerr"
)

// fakeTokens hands out sequential tokens and records invalidations.
type fakeTokens struct {
	current      atomic.Int32
	invalidated  atomic.Int32
	tokenFailure error
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	if f.tokenFailure != nil {
		return "", f.tokenFailure
	}
	if f.current.Load() == 0 {
		f.current.Store(1)
	}
	return "tok-" + string(rune('0'+f.current.Load())), nil
}

func (f *fakeTokens) Invalidate() {
	f.invalidated.Add(1)
	f.current.Add(1)
}

func newTestClient(endpoint string, timeout time.Duration) (*Client, *fakeTokens) {
	tokens := &fakeTokens{}
	client := NewClient(Config{
		Endpoint:   endpoint,
		Model:      "gpt-4o",
		MaxRetries: 1,
		Timeout:    timeout,
	}, tokens)
	return client, tokens
}

func completionJSON(content string) string {
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		"model": "gpt-4o-2024",
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestCompleteSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Error("Expected Authorization header")
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("Expected stream=false")
		}
		_, _ = w.Write([]byte(completionJSON("  hello back  ")))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, 5*time.Second)

	result, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}}, 0.3, 100)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !result.Success {
		t.Error("Expected success result")
	}
	if result.Content != "hello back" {
		t.Errorf("Expected trimmed content, got %q", result.Content)
	}
	if result.Model != "gpt-4o-2024" {
		t.Errorf("Expected provider model, got %q", result.Model)
	}
	if result.Usage.TotalTokens != 15 {
		t.Errorf("Expected usage total 15, got %d", result.Usage.TotalTokens)
	}
}

func TestComplete401RetriesOnceWithFreshToken(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(completionJSON("recovered")))
	}))
	defer srv.Close()

	client, tokens := newTestClient(srv.URL, 5*time.Second)

	result, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}}, 0.3, 100)
	if err != nil {
		t.Fatalf("Complete failed after retry: %v", err)
	}
	if result.Content != "recovered" {
		t.Errorf("Expected recovered content, got %q", result.Content)
	}
	if tokens.invalidated.Load() != 1 {
		t.Errorf("Expected exactly 1 token invalidation, got %d", tokens.invalidated.Load())
	}
	if requests.Load() != 2 {
		t.Errorf("Expected 2 requests, got %d", requests.Load())
	}
}

func TestCompletePersistent401IsConnectionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, 5*time.Second)

	_, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}}, 0.3, 100)
	if err == nil {
		t.Fatal("Expected error after 401 retry exhaustion")
	}
	if cdoerr.CodeOf(err) != cdoerr.CodeConnection {
		t.Errorf("Expected CONNECTION_ERROR, got %s", cdoerr.CodeOf(err))
	}
}

func TestCompleteZeroChoicesIsNoContentNotError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [], "usage": {"total_tokens": 3}, "model": "gpt-4o"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, 5*time.Second)

	result, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}}, 0.3, 100)
	if err != nil {
		t.Fatalf("Expected no error for zero choices, got %v", err)
	}
	if result.Success {
		t.Error("Expected Success=false for zero choices")
	}
	if result.Usage.TotalTokens != 3 {
		t.Errorf("Expected usage carried through, got %d", result.Usage.TotalTokens)
	}
}

func TestCompleteRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, 5*time.Second)

	_, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}}, 0.3, 100)
	if err == nil {
		t.Fatal("Expected rate limit error")
	}
	if cdoerr.CodeOf(err) != cdoerr.CodeRateLimit {
		t.Errorf("Expected RATE_LIMIT_ERROR, got %s", cdoerr.CodeOf(err))
	}
}

func TestCompleteServerErrorIsConnectionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, 5*time.Second)

	_, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}}, 0.3, 100)
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if cdoerr.CodeOf(err) != cdoerr.CodeConnection {
		t.Errorf("Expected CONNECTION_ERROR, got %s", cdoerr.CodeOf(err))
	}
}

func TestCompleteTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte(completionJSON("too late")))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, 50*time.Millisecond)

	_, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}}, 0.3, 100)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if cdoerr.CodeOf(err) != cdoerr.CodeTimeout {
		t.Errorf("Expected TIMEOUT_ERROR, got %s", cdoerr.CodeOf(err))
	}
}

func TestCompleteTokenFailurePropagates(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{
		Endpoint:   "http://localhost:1",
		Model:      "gpt-4o",
		MaxRetries: 1,
		Timeout:    time.Second,
	}, &fakeTokens{tokenFailure: errors.New("auth endpoint down")})

	_, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}}, 0.3, 100)
	if err == nil {
		t.Fatal("Expected token acquisition failure to propagate")
	}
}
