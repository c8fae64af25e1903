package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

type embedRequest struct {
	Model     string         `json:"model"`
	Input     []string       `json:"input"`
	Truncate  *bool          `json:"truncate,omitempty"`
	KeepAlive any            `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type embedResponse struct {
	Model           string      `json:"model"`
	Embeddings      [][]float32 `json:"embeddings"`
	TotalDuration   int64       `json:"total_duration"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// EmbedDocuments returns one vector per text, in input order, from a single
// request. An empty slice returns nil without contacting the server.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embedRequest{
		Model:     c.model,
		Input:     texts,
		Truncate:  c.truncate,
		KeepAlive: keepAliveValue(c.keepAlive),
		Options:   c.options,
	}

	start := time.Now()
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(&reqBody).
		Post("/api/embed")
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, newAPIError(resp)
	}

	var result embedResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w (body: %s)", err, resp.String())
	}
	if len(result.Embeddings) == 0 {
		return nil, ErrEmptyResponse
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	slog.Debug("embedded",
		"model", c.model,
		"inputs", len(texts),
		"dims", len(result.Embeddings[0]),
		"prompt_tokens", result.PromptEvalCount,
		"elapsed", time.Since(start),
	)
	return result.Embeddings, nil
}

// EmbedQuery returns the vector for a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// keepAliveValue sends bare integers as seconds and anything else as a
// duration string, matching what the server accepts.
func keepAliveValue(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}
