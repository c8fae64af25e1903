package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ModelInfo describes a model available on the server.
type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails holds the format and quantization of a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ListModels returns the models pulled on the server. Results are reused for
// a minute.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if item := c.tags.Get(tagsCacheKey); item != nil {
		return item.Value(), nil
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		Get("/api/tags")
	if err != nil {
		return nil, fmt.Errorf("ollama tags request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, newAPIError(resp)
	}

	var result tagsResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse tags response: %w", err)
	}

	c.tags.Set(tagsCacheKey, result.Models, ttlcache.DefaultTTL)
	return result.Models, nil
}

// ValidateModel checks that the configured model has been pulled.
func (c *Client) ValidateModel(ctx context.Context) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	want := canonicalName(c.model)
	for _, m := range models {
		if canonicalName(m.Name) == want || canonicalName(m.Model) == want {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (try `ollama pull %s`)", ErrModelNotFound, c.model, c.model)
}

// canonicalName appends the implicit ":latest" tag. Only the last path
// segment is inspected so registry ports are not mistaken for tags.
func canonicalName(name string) string {
	if name == "" {
		return ""
	}
	base := name[strings.LastIndex(name, "/")+1:]
	if !strings.Contains(base, ":") {
		return name + ":latest"
	}
	return name
}
