// Package ollama is a small client for the embedding endpoints of an Ollama
// server. The server computes the vectors; this package only shapes requests
// and decodes responses.
package ollama

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jellydator/ttlcache/v3"
)

const (
	// DefaultBaseURL is where a local Ollama server listens.
	DefaultBaseURL = "http://localhost:11434"

	defaultTimeout = 60 * time.Second
	tagsCacheTTL   = 1 * time.Minute
	tagsCacheKey   = "tags"
)

// Client generates embeddings with a single, fixed model.
// It is immutable after New and safe for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	keepAlive string
	truncate  *bool
	options   map[string]any
	timeout   time.Duration
	retries   int
	hc        *http.Client

	rest *resty.Client
	tags *ttlcache.Cache[string, []ModelInfo]
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the server address. Trailing slashes are dropped.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithKeepAlive controls how long the server keeps the model loaded after a
// request, e.g. "5m", or "0" to unload immediately.
func WithKeepAlive(keepAlive string) Option {
	return func(c *Client) { c.keepAlive = keepAlive }
}

// WithTruncate sets whether the server truncates inputs that exceed the
// model's context length instead of failing.
func WithTruncate(truncate bool) Option {
	return func(c *Client) { c.truncate = &truncate }
}

// WithOptions passes model runtime parameters (num_ctx, num_thread, ...).
func WithOptions(options map[string]any) Option {
	return func(c *Client) {
		if len(options) == 0 {
			c.options = nil
			return
		}
		c.options = make(map[string]any, len(options))
		for k, v := range options {
			c.options[k] = v
		}
	}
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries retries transport failures and 5xx responses up to n times.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New creates a client for model. It performs no I/O.
func New(model string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		model:   model,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	var rc *resty.Client
	if c.hc != nil {
		rc = resty.NewWithClient(c.hc)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(c.baseURL).
		SetLogger(restyLogger{}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(c.timeout)
	if c.apiKey != "" {
		rc.SetAuthToken(c.apiKey)
	}
	if c.retries > 0 {
		rc.SetRetryCount(c.retries).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
			})
	}
	c.rest = rc

	// Expiry is checked on Get, so the cleanup loop is never started.
	c.tags = ttlcache.New[string, []ModelInfo](
		ttlcache.WithTTL[string, []ModelInfo](tagsCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, []ModelInfo](),
	)
	return c
}

// Model returns the embedding model name.
func (c *Client) Model() string { return c.model }

// BaseURL returns the server address requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// Close drops cached model listings. The client stays usable.
func (c *Client) Close() {
	c.tags.DeleteAll()
}

// restyLogger sends resty's own messages to slog at debug level; failures
// are already returned to the caller.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "resty", "severity", "error")
}

func (restyLogger) Warnf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "resty", "severity", "warn")
}

func (restyLogger) Debugf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "resty")
}
