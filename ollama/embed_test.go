package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fakeEmbedServer(t *testing.T, hits *atomic.Int32, check func(req map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if check != nil {
			check(req)
		}
		inputs, _ := req["input"].([]any)
		embeddings := make([][]float32, len(inputs))
		for i := range inputs {
			embeddings[i] = []float32{float32(i), 0.5, 1}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      req["model"],
			"embeddings": embeddings,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// staticServer answers every request with the given status and body.
func staticServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewDefaults(t *testing.T) {
	c := New("deepseek-r1:8b")
	if c.Model() != "deepseek-r1:8b" {
		t.Errorf("expected model deepseek-r1:8b, got %s", c.Model())
	}
	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("expected baseURL %s, got %s", DefaultBaseURL, c.BaseURL())
	}
	if c.timeout != defaultTimeout {
		t.Errorf("expected timeout %v, got %v", defaultTimeout, c.timeout)
	}
	if c.truncate != nil {
		t.Errorf("expected truncate unset, got %v", *c.truncate)
	}
}

func TestWithBaseURLTrimsSlash(t *testing.T) {
	c := New("m", WithBaseURL("http://example.com:11434/"))
	if c.BaseURL() != "http://example.com:11434" {
		t.Errorf("expected trailing slash trimmed, got %s", c.BaseURL())
	}
}

func TestWithOptionsCopies(t *testing.T) {
	opts := map[string]any{"num_ctx": 2048}
	c := New("m", WithOptions(opts))
	opts["num_ctx"] = 1
	if c.options["num_ctx"] != 2048 {
		t.Errorf("expected options to be copied, got num_ctx=%v", c.options["num_ctx"])
	}
}

func TestNewDoesNotContactServer(t *testing.T) {
	var hits atomic.Int32
	srv := fakeEmbedServer(t, &hits, nil)
	c := New("m", WithBaseURL(srv.URL))
	c.Close()
	if n := hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestEmbedDocumentsEmpty(t *testing.T) {
	var hits atomic.Int32
	srv := fakeEmbedServer(t, &hits, nil)
	c := New("m", WithBaseURL(srv.URL))

	vectors, err := c.EmbedDocuments(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error for empty input: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestEmbedDocumentsRequestShape(t *testing.T) {
	var got map[string]any
	srv := fakeEmbedServer(t, nil, func(req map[string]any) { got = req })
	c := New("deepseek-r1:8b",
		WithBaseURL(srv.URL),
		WithTruncate(false),
		WithKeepAlive("5m"),
		WithOptions(map[string]any{"num_ctx": 4096}),
	)

	vectors, err := c.EmbedDocuments(context.Background(), []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, v := range vectors {
		if v[0] != float32(i) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}

	if got["model"] != "deepseek-r1:8b" {
		t.Errorf("expected model deepseek-r1:8b, got %v", got["model"])
	}
	if want := []any{"alpha", "beta", "gamma"}; !reflect.DeepEqual(got["input"], want) {
		t.Errorf("expected input %v, got %v", want, got["input"])
	}
	if got["truncate"] != false {
		t.Errorf("expected truncate false, got %v", got["truncate"])
	}
	if got["keep_alive"] != "5m" {
		t.Errorf("expected keep_alive 5m, got %v", got["keep_alive"])
	}
	if want := map[string]any{"num_ctx": float64(4096)}; !reflect.DeepEqual(got["options"], want) {
		t.Errorf("expected options %v, got %v", want, got["options"])
	}
}

func TestEmbedDocumentsOmitsUnsetFields(t *testing.T) {
	var got map[string]any
	srv := fakeEmbedServer(t, nil, func(req map[string]any) { got = req })
	c := New("m", WithBaseURL(srv.URL))

	if _, err := c.EmbedDocuments(context.Background(), []string{"x"}); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"truncate", "keep_alive", "options"} {
		if _, ok := got[key]; ok {
			t.Errorf("expected %s to be omitted, got %v", key, got[key])
		}
	}
}

func TestEmbedQuery(t *testing.T) {
	srv := fakeEmbedServer(t, nil, nil)
	c := New("m", WithBaseURL(srv.URL))

	vec, err := c.EmbedQuery(context.Background(), "what is a vector?")
	if err != nil {
		t.Fatal(err)
	}
	if want := []float32{0, 0.5, 1}; !reflect.DeepEqual(vec, want) {
		t.Errorf("expected %v, got %v", want, vec)
	}
}

func TestEmbedSendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	defer srv.Close()

	c := New("m", WithBaseURL(srv.URL), WithAPIKey("secret"))
	if _, err := c.EmbedQuery(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer secret" {
		t.Errorf("expected Authorization 'Bearer secret', got %q", auth)
	}
}

func TestEmbedModelNotFound(t *testing.T) {
	srv := staticServer(t, http.StatusNotFound, `{"error":"model \"deepseek-r1:8b\" not found, try pulling it first"}`)

	c := New("deepseek-r1:8b", WithBaseURL(srv.URL))
	_, err := c.EmbedQuery(context.Background(), "x")
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "try pulling it first") {
		t.Errorf("expected server message, got %q", apiErr.Message)
	}
}

func TestEmbedRouteNotFoundIsNotModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := New("m", WithBaseURL(srv.URL+"/wrong-prefix"))
	_, err := c.EmbedQuery(context.Background(), "x")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected a 404 *APIError, got %v", err)
	}
	if errors.Is(err, ErrModelNotFound) {
		t.Errorf("route 404 %q should not match ErrModelNotFound", apiErr.Message)
	}
}

func TestAPIErrorIs(t *testing.T) {
	tests := []struct {
		status  int
		message string
		match   bool
	}{
		{http.StatusNotFound, `model "llama3" not found, try pulling it first`, true},
		{http.StatusNotFound, "Model not found", true},
		{http.StatusNotFound, "404 page not found", false},
		{http.StatusNotFound, "Not Found", false},
		{http.StatusInternalServerError, `model "llama3" failed to load`, false},
	}
	for _, tt := range tests {
		err := &APIError{StatusCode: tt.status, Message: tt.message}
		if got := errors.Is(err, ErrModelNotFound); got != tt.match {
			t.Errorf("errors.Is(%d %q, ErrModelNotFound) = %v, want %v", tt.status, tt.message, got, tt.match)
		}
	}
}

func TestEmbedServerErrorPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("m", WithBaseURL(srv.URL))
	_, err := c.EmbedQuery(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "boom" {
		t.Errorf("expected message 'boom', got %q", apiErr.Message)
	}
	if errors.Is(err, ErrModelNotFound) {
		t.Error("500 should not match ErrModelNotFound")
	}
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[3]]}`))
	}))
	defer srv.Close()

	c := New("m", WithBaseURL(srv.URL), WithRetries(2))
	vec, err := c.EmbedQuery(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 1 || vec[0] != 3 {
		t.Errorf("expected [3], got %v", vec)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := staticServer(t, http.StatusOK, `{"embeddings":[[1]]}`)

	c := New("m", WithBaseURL(srv.URL))
	_, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "1 embeddings for 2 inputs") {
		t.Errorf("expected count mismatch error, got %v", err)
	}
}

func TestEmbedEmptyResponse(t *testing.T) {
	srv := staticServer(t, http.StatusOK, `{"embeddings":[]}`)

	c := New("m", WithBaseURL(srv.URL))
	if _, err := c.EmbedQuery(context.Background(), "x"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestEmbedMalformedJSON(t *testing.T) {
	srv := staticServer(t, http.StatusOK, `not json`)

	c := New("m", WithBaseURL(srv.URL))
	_, err := c.EmbedQuery(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "failed to parse embedding response") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestEmbedUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New("m", WithBaseURL(url), WithTimeout(2*time.Second))
	_, err := c.EmbedQuery(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "ollama embed request") {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestEmbedHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only notices a client disconnect once the body is read.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	// Runs before srv.Close so the handler is never left waiting.
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := New("m", WithBaseURL(srv.URL))
	_, err := c.EmbedQuery(ctx, "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestKeepAliveValue(t *testing.T) {
	tests := []struct {
		input    string
		expected any
	}{
		{"", nil},
		{"0", 0},
		{"300", 300},
		{"-1", -1},
		{"5m", "5m"},
		{"1h30m", "1h30m"},
	}
	for _, tt := range tests {
		got := keepAliveValue(tt.input)
		if got != tt.expected {
			t.Errorf("keepAliveValue(%q) = %#v, want %#v", tt.input, got, tt.expected)
		}
	}
}
