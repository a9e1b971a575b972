package describe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when an API key is required but missing.
	ErrNoAPIKey = errors.New("describe: API key required")

	// ErrNoProject is returned when Vertex AI has no project to bill.
	ErrNoProject = errors.New("describe: Google Cloud project required")

	// ErrNoContent is returned when a model answers without text.
	ErrNoContent = errors.New("describe: no response content")

	// ErrProviderUnavailable is returned when no providers are configured.
	ErrProviderUnavailable = errors.New("describe: provider unavailable")
)

// APIError represents an error response from a model API.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("describe [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsClientError reports a 4xx other than rate limiting. Such requests are
// not retried.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("describe [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError aggregates the failures of every generator in a Chain.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "describe chain: no errors recorded"
	case 1:
		return fmt.Sprintf("describe chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("describe chain: all %d generators failed, last error: %v",
		len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap exposes every generator error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error { return e.Errors }

// retryable reports whether a failed call is worth repeating.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.IsClientError()
	}
	return !errors.Is(err, ErrNoContent)
}
