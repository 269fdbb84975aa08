package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://backend.test", "test-key")

		if c.baseURL != "http://backend.test" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "http://backend.test")
		}
		if c.apiKey != "test-key" {
			t.Errorf("apiKey = %q, want %q", c.apiKey, "test-key")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
		if c.cache == nil {
			t.Error("search cache should be enabled by default")
		}
		if c.BreakerState() != "closed" {
			t.Errorf("BreakerState() = %q, want closed", c.BreakerState())
		}
	})

	t.Run("with timeout option", func(t *testing.T) {
		c := NewClient("http://backend.test", "", WithTimeout(5*time.Second))
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 5*time.Second)
		}
	})

	t.Run("with retries option", func(t *testing.T) {
		c := NewClient("http://backend.test", "", WithRetries(5, 2*time.Second))
		if c.maxRetries != 5 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 5)
		}
		if c.retryBackoff != 2*time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 2*time.Second)
		}
	})

	t.Run("with logger option", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("http://backend.test", "", WithLogger(logger))
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("http://backend.test", "", WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("http://backend.test", "", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})

	t.Run("search cache disabled", func(t *testing.T) {
		c := NewClient("http://backend.test", "", WithSearchCache(0, 0))
		if c.cache != nil {
			t.Error("cache should be nil when size is 0")
		}
	})

	t.Run("breaker threshold floor", func(t *testing.T) {
		c := NewClient("http://backend.test", "", WithBreaker(0, time.Second))
		if c.breakerThreshold != 1 {
			t.Errorf("breakerThreshold = %d, want 1", c.breakerThreshold)
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{
			StatusCode: 404,
			Message:    "Not Found",
			Body:       []byte(`{"detail": "item not found"}`),
		}
		expected := "backend api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{400, false},
			{401, false},
			{404, false},
			{422, false},
			{429, true},
			{500, true},
			{502, true},
			{503, true},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

func TestBreakerSuccess(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"client error", &APIError{StatusCode: 404}, true},
		{"server error", &APIError{StatusCode: 503}, false},
		{"wrapped server error", errors.Join(errors.New("max retries exceeded"), &APIError{StatusCode: 500}), false},
		{"transport error", errors.New("connection refused"), false},
		{"caller canceled", context.Canceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := breakerSuccess(tt.err); got != tt.want {
				t.Errorf("breakerSuccess(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("Authorization") != "Bearer test-key" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer test-key")
			}
			if r.Header.Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header should be set")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "test-key")
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("request without API key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("request with body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"a":1}` {
				t.Errorf("body = %q, want %q", body, `{"a":1}`)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		if _, err := c.doRequest(context.Background(), http.MethodPost, "/test", nil, []byte(`{"a":1}`)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if !strings.Contains(string(apiErr.Body), "not found") {
			t.Errorf("Body should contain 'not found', got %q", string(apiErr.Body))
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error should contain 'context canceled', got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(3, time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok":true}` {
			t.Errorf("body = %q", body)
		}
		if got := atomic.LoadInt32(&attempts); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(2, time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("err = %v, want max retries exceeded", err)
		}
		if got := atomic.LoadInt32(&attempts); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(3, time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if got := atomic.LoadInt32(&attempts); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context") {
			t.Errorf("error should be context-related, got %v", err)
		}
	})
}

func TestCircuitBreaker(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(0, 0), WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := c.Health(context.Background())
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("call %d: err = %v, want *APIError", i, err)
		}
	}

	_, err := c.Health(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("server hit %d times, want 2", got)
	}
	if c.BreakerState() != "open" {
		t.Errorf("BreakerState() = %q, want open", c.BreakerState())
	}
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(0, 0), WithBreaker(1, time.Minute))
	for i := 0; i < 3; i++ {
		_, err := c.Health(context.Background())
		if errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d tripped the breaker on a 404", i)
		}
	}
}

func TestSubmitQuery(t *testing.T) {
	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/query" {
				t.Errorf("request = %s %s, want POST /api/query", r.Method, r.URL.Path)
			}
			var req QueryRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req.Query != "what is attention?" || !req.IncludeReasoning {
				t.Errorf("request = %+v", req)
			}
			w.Write([]byte(`{
				"query_id": "q-1",
				"response": "a selection mechanism",
				"confidence": 0.82,
				"reasoning_steps": [{"step": 1, "description": "recall", "confidence": 0.9}],
				"processing_time": 0.12
			}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		res, err := c.SubmitQuery(context.Background(), QueryRequest{Query: "what is attention?", IncludeReasoning: true})
		if err != nil {
			t.Fatalf("SubmitQuery failed: %v", err)
		}
		if res.QueryID != "q-1" || res.Response != "a selection mechanism" {
			t.Errorf("result = %+v", res)
		}
		if len(res.ReasoningSteps) != 1 || res.ReasoningSteps[0].Description != "recall" {
			t.Errorf("ReasoningSteps = %+v", res.ReasoningSteps)
		}
	})

	t.Run("empty query", func(t *testing.T) {
		c := NewClient("http://backend.test", "")
		if _, err := c.SubmitQuery(context.Background(), QueryRequest{Query: "  "}); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("err = %v, want ErrEmptyQuery", err)
		}
	})

	t.Run("malformed response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		_, err := c.SubmitQuery(context.Background(), QueryRequest{Query: "x"})
		if err == nil || !strings.Contains(err.Error(), "unmarshal response") {
			t.Errorf("err = %v, want unmarshal error", err)
		}
	})
}

func TestSearchKnowledgeCache(t *testing.T) {
	var searches, imports int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/knowledge/search":
			atomic.AddInt32(&searches, 1)
			if r.URL.Query().Get("q") != "memory" {
				t.Errorf("q = %q, want memory", r.URL.Query().Get("q"))
			}
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("limit = %q, want 5", r.URL.Query().Get("limit"))
			}
			w.Write([]byte(`{"results": [{"id": "k1", "concept": "working memory"}], "total": 1}`))
		case "/api/knowledge/import":
			atomic.AddInt32(&imports, 1)
			var req ImportRequest
			json.NewDecoder(r.Body).Decode(&req)
			fmt.Fprintf(w, `{"imported": %d, "failed": 0}`, len(req.Items))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithSearchCache(16, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		items, err := c.SearchKnowledge(ctx, "memory", 5)
		if err != nil {
			t.Fatalf("SearchKnowledge failed: %v", err)
		}
		if len(items) != 1 || items[0].Concept != "working memory" {
			t.Errorf("items = %+v", items)
		}
	}
	if got := atomic.LoadInt32(&searches); got != 1 {
		t.Errorf("searches = %d, want 1 (second served from cache)", got)
	}

	res, err := c.ImportKnowledge(ctx, []KnowledgeItem{{Concept: "a"}, {Concept: "b"}})
	if err != nil {
		t.Fatalf("ImportKnowledge failed: %v", err)
	}
	if res.Imported != 2 {
		t.Errorf("Imported = %d, want 2", res.Imported)
	}

	if _, err := c.SearchKnowledge(ctx, "memory", 5); err != nil {
		t.Fatalf("SearchKnowledge failed: %v", err)
	}
	if got := atomic.LoadInt32(&searches); got != 2 {
		t.Errorf("searches = %d, want 2 (import purges the cache)", got)
	}
}

func TestSearchKnowledgeCacheIsolation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [{"id": "k1", "concept": "working memory"}], "total": 1}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithSearchCache(16, time.Minute))
	ctx := context.Background()

	first, err := c.SearchKnowledge(ctx, "memory", 0)
	if err != nil {
		t.Fatalf("SearchKnowledge failed: %v", err)
	}
	first[0].Concept = "changed by caller"

	second, err := c.SearchKnowledge(ctx, "memory", 0)
	if err != nil {
		t.Fatalf("SearchKnowledge failed: %v", err)
	}
	if second[0].Concept != "working memory" {
		t.Errorf("cached Concept = %q, want %q", second[0].Concept, "working memory")
	}
	second[0].Concept = "changed again"

	third, _ := c.SearchKnowledge(ctx, "memory", 0)
	if third[0].Concept != "working memory" {
		t.Errorf("cached Concept = %q after mutating a cache hit", third[0].Concept)
	}
}

func TestImportKnowledgeEmpty(t *testing.T) {
	c := NewClient("http://backend.test", "")
	if _, err := c.ImportKnowledge(context.Background(), nil); !errors.Is(err, ErrNoItems) {
		t.Errorf("err = %v, want ErrNoItems", err)
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("path = %q, want /api/health", r.URL.Path)
		}
		w.Write([]byte(`{"status": "healthy", "version": "1.2.0", "components": {"reasoner": "ok"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !h.Healthy() {
		t.Errorf("Healthy() = false for %+v", h)
	}
	if h.Components["reasoner"] != "ok" {
		t.Errorf("Components = %v", h.Components)
	}

	if (&HealthStatus{Status: "degraded"}).Healthy() {
		t.Error("degraded should not be healthy")
	}
}
