// Package embedfn hands out the embedding function used to index and query
// documents: an Ollama client bound to a single model.
package embedfn

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Paranoid-AF/embedfn/ollama"
)

// DefaultModel is the model every embedding function from
// GetEmbeddingFunction is bound to.
const DefaultModel = "deepseek-r1:8b"

// EmbeddingFunction turns text into vectors.
type EmbeddingFunction interface {
	// EmbedDocuments returns one vector per text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery returns the vector for a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Model returns the embedding model name.
	Model() string
}

var _ EmbeddingFunction = (*ollama.Client)(nil)

// GetEmbeddingFunction returns a new client for DefaultModel. The server
// address comes from $OLLAMA_HOST (default http://localhost:11434); nothing
// else is configurable. No request is made until the client is used, and
// errors from the server are returned to the caller as-is.
func GetEmbeddingFunction() *ollama.Client {
	return ollama.New(DefaultModel, ollama.WithBaseURL(ResolveBaseURL(nil)))
}

// NewEmbeddingFunction builds a client from cfg, with environment overrides
// applied. A nil cfg means DefaultConfig. It fails only on an unusable
// configuration and never contacts the server.
func NewEmbeddingFunction(cfg *Config) (*ollama.Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	model := ResolveModel(cfg)
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("embedding model is not configured")
	}
	if strings.ContainsAny(model, " \t\r\n") {
		return nil, fmt.Errorf("invalid embedding model name %q", model)
	}

	baseURL := ResolveBaseURL(cfg)
	if u, err := url.ParseRequestURI(baseURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid embedding base URL %q", baseURL)
	}

	opts := []ollama.Option{
		ollama.WithBaseURL(baseURL),
		ollama.WithAPIKey(ResolveAPIKey(cfg)),
		ollama.WithKeepAlive(cfg.Embedding.KeepAlive),
		ollama.WithOptions(cfg.Embedding.Options),
		ollama.WithRetries(cfg.Embedding.MaxRetries),
	}
	if cfg.Embedding.Truncate != nil {
		opts = append(opts, ollama.WithTruncate(*cfg.Embedding.Truncate))
	}
	if cfg.Embedding.TimeoutSeconds > 0 {
		opts = append(opts, ollama.WithTimeout(time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second))
	}
	return ollama.New(model, opts...), nil
}
