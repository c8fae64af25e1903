package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrModelNotFound is reported when the server does not have the model.
	ErrModelNotFound = errors.New("model not found")
	// ErrEmptyResponse is reported when the server answers without vectors.
	ErrEmptyResponse = errors.New("empty embedding response")
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ollama API error (status %d): %s", e.StatusCode, e.Message)
}

// Is makes a 404 that names a model match ErrModelNotFound. A bare route
// 404 ("404 page not found") does not match.
func (e *APIError) Is(target error) bool {
	return target == ErrModelNotFound &&
		e.StatusCode == http.StatusNotFound &&
		strings.Contains(strings.ToLower(e.Message), "model")
}

func newAPIError(resp *resty.Response) *APIError {
	msg := strings.TrimSpace(resp.String())
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}
