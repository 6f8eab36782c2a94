package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/contractreview/internal/adapter/litellm"
	"github.com/Strob0t/contractreview/internal/resilience"
)

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req litellm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "openai/gpt-4o" || len(req.Messages) != 2 {
			t.Fatalf("unexpected request %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"[]"},"finish_reason":"stop"}],"usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", 5*time.Second)
	resp, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{
		Model: "openai/gpt-4o",
		Messages: []litellm.ChatMessage{
			{Role: "system", Content: "You review contracts."},
			{Role: "user", Content: "Clause text"},
		},
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	content, err := resp.Content()
	if err != nil || content != "[]" {
		t.Fatalf("unexpected content %q, err %v", content, err)
	}
	if resp.Usage.TotalTokens != 42 {
		t.Fatalf("expected usage, got %+v", resp.Usage)
	}
}

func TestChatCompletionEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	resp, err := litellm.NewClient(srv.URL, "", 0).ChatCompletion(context.Background(), litellm.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := resp.Content(); !errors.Is(err, litellm.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestChatCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	_, err := litellm.NewClient(srv.URL, "", 0).ChatCompletion(context.Background(), litellm.ChatRequest{})
	if err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", 0)
	client.SetBreaker(resilience.NewBreaker(2, time.Minute))

	for range 4 {
		_, _ = client.ChatCompletion(context.Background(), litellm.ChatRequest{})
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, got %d hits", n)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/liveliness" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`"I'm alive!"`))
	}))
	defer srv.Close()

	healthy, err := litellm.NewClient(srv.URL, "test-key", 0).Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !healthy {
		t.Fatal("expected healthy")
	}
}

func TestHealthUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unhealthy"}`))
	}))
	defer srv.Close()

	healthy, _ := litellm.NewClient(srv.URL, "test-key", 0).Health(context.Background())
	if healthy {
		t.Fatal("expected unhealthy")
	}
}
