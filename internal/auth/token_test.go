package auth

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cdoai/intentd/internal/cdoerr"
)

func newTokenServer(t *testing.T, requests *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)

		expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("client:secret"))
		if r.Header.Get("Authorization") != expected {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "grant_type=client_credentials") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "tok-123", "expires_in": 3600, "token_type": "Bearer"}`))
	}))
}

func TestTokenCachedWithinValidityWindow(t *testing.T) {
	t.Parallel()

	var requests int32
	srv := newTokenServer(t, &requests)
	defer srv.Close()

	cache := NewTokenCache(srv.URL, "client", "secret", 5*time.Second)

	for i := 0; i < 2; i++ {
		token, err := cache.Token(context.Background())
		if err != nil {
			t.Fatalf("Token call %d failed: %v", i+1, err)
		}
		if token != "tok-123" {
			t.Fatalf("Expected tok-123, got %q", token)
		}
	}

	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Errorf("Expected exactly 1 token request, got %d", got)
	}
}

func TestTokenRefreshedAfterExpiry(t *testing.T) {
	t.Parallel()

	var requests int32
	srv := newTokenServer(t, &requests)
	defer srv.Close()

	cache := NewTokenCache(srv.URL, "client", "secret", 5*time.Second)

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	// Force the cached token past its expiry.
	cache.mu.Lock()
	cache.token.ExpiresAt = time.Now().Add(-time.Minute)
	cache.mu.Unlock()

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token after expiry failed: %v", err)
	}

	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Errorf("Expected exactly 2 token requests (1 refresh), got %d", got)
	}
}

func TestTokenRefreshedWithinBuffer(t *testing.T) {
	t.Parallel()

	var requests int32
	srv := newTokenServer(t, &requests)
	defer srv.Close()

	cache := NewTokenCache(srv.URL, "client", "secret", 5*time.Second)

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	// Still valid, but inside the 5-minute refresh buffer.
	cache.mu.Lock()
	cache.token.ExpiresAt = time.Now().Add(2 * time.Minute)
	cache.mu.Unlock()

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token within buffer failed: %v", err)
	}

	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Errorf("Expected a refresh inside the expiry buffer, got %d requests", got)
	}
}

func TestConcurrentAcquireSingleFlight(t *testing.T) {
	t.Parallel()

	var requests int32
	srv := newTokenServer(t, &requests)
	defer srv.Close()

	cache := NewTokenCache(srv.URL, "client", "secret", 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Token(context.Background()); err != nil {
				t.Errorf("concurrent Token failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Errorf("Expected burst to produce exactly 1 token request, got %d", got)
	}
}

func TestFailedRefreshDoesNotPoisonCache(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "tok-later", "expires_in": 60}`))
	}))
	defer srv.Close()

	cache := NewTokenCache(srv.URL, "client", "secret", 5*time.Second)

	_, err := cache.Token(context.Background())
	if err == nil {
		t.Fatal("Expected error from failing token endpoint")
	}
	if cdoerr.CodeOf(err) != cdoerr.CodeAuth {
		t.Errorf("Expected AUTH_ERROR, got %s", cdoerr.CodeOf(err))
	}

	fail.Store(false)
	token, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Expected recovery after endpoint healed, got %v", err)
	}
	if token != "tok-later" {
		t.Errorf("Expected tok-later, got %q", token)
	}
}

func TestMissingAccessTokenIsAuthError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type": "Bearer", "expires_in": 3600}`))
	}))
	defer srv.Close()

	cache := NewTokenCache(srv.URL, "client", "secret", 5*time.Second)

	_, err := cache.Token(context.Background())
	if err == nil {
		t.Fatal("Expected error for response without access_token")
	}
	if cdoerr.CodeOf(err) != cdoerr.CodeAuth {
		t.Errorf("Expected AUTH_ERROR, got %s", cdoerr.CodeOf(err))
	}
}

func TestDefaultExpiryApplied(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "tok-noexp"}`))
	}))
	defer srv.Close()

	cache := NewTokenCache(srv.URL, "client", "secret", 5*time.Second)

	before := time.Now()
	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	cache.mu.Lock()
	expiresAt := cache.token.ExpiresAt
	cache.mu.Unlock()

	want := before.Add(time.Duration(defaultExpiresIn) * time.Second)
	if expiresAt.Before(want.Add(-5*time.Second)) || expiresAt.After(want.Add(5*time.Second)) {
		t.Errorf("Expected default 3600s expiry, got %v", expiresAt.Sub(before))
	}
}
