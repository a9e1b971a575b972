package describe

import (
	"log/slog"
	"time"
)

// Config holds generator provider configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// Project and Location address a Vertex AI endpoint.
	Project  string
	Location string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration // first backoff; doubles per attempt

	// Anonymous skips credential discovery (local emulators and tests).
	Anonymous bool

	Logger *slog.Logger
}

// Option is a functional option for configuring generators.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithProject sets the Google Cloud project and region.
func WithProject(project, location string) Option {
	return func(c *Config) {
		c.Project = project
		c.Location = location
	}
}

// WithTimeout bounds each request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithRetry configures retries of transient failures.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithAnonymous disables credential lookup.
func WithAnonymous() Option {
	return func(c *Config) { c.Anonymous = true }
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Location:   "us-central1",
		Timeout:    12 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
