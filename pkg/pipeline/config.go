package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/narration"
	"github.com/teslashibe/go-wayfinder/pkg/stabilizer"
)

// Config holds pipeline configuration
type Config struct {
	// Sampling
	SampleStride int // every Nth source frame is offered for analysis

	// Stabilization
	WindowSize int
	MinHits    int

	// Gating
	Cooldown      time.Duration // enqueue and speech cooldown
	ForceInterval time.Duration // re-narrate an unchanged scene after this long, 0 disables
	QueueCapacity int

	// Timeouts
	GenerateTimeout time.Duration // bound on one generator call, 0 disables
	SpeakTimeout    time.Duration // bound on one sink call, 0 disables
	ShutdownTimeout time.Duration // how long to wait for the speech worker on exit
	PollInterval    time.Duration // speech worker queue poll

	// Anticipation runs the ANI tracker on stable detections
	Anticipation bool

	Logger *slog.Logger
	Clock  func() time.Time // nil means time.Now
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SampleStride:    5,
		WindowSize:      stabilizer.DefaultWindowSize,
		MinHits:         stabilizer.DefaultMinHits,
		Cooldown:        4 * time.Second,
		ForceInterval:   10 * time.Second,
		QueueCapacity:   narration.DefaultQueueCapacity,
		GenerateTimeout: 12 * time.Second,
		SpeakTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		PollInterval:    250 * time.Millisecond,
		Anticipation:    true,
		Logger:          slog.Default(),
	}
}

// Option is a functional option for configuring the pipeline.
type Option func(*Config)

// WithStride sets the sampling stride.
func WithStride(n int) Option {
	return func(c *Config) { c.SampleStride = n }
}

// WithStabilizer sets the stabilization window and hit threshold.
func WithStabilizer(window, minHits int) Option {
	return func(c *Config) {
		c.WindowSize = window
		c.MinHits = minHits
	}
}

// WithCooldown sets the enqueue and speech cooldown.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) { c.Cooldown = d }
}

// WithForceInterval sets the unchanged-scene refresh interval.
func WithForceInterval(d time.Duration) Option {
	return func(c *Config) { c.ForceInterval = d }
}

// WithQueueCapacity sets the narration queue bound.
func WithQueueCapacity(n int) Option {
	return func(c *Config) { c.QueueCapacity = n }
}

// WithTimeouts sets the generator, sink and shutdown bounds.
func WithTimeouts(generate, speak, shutdown time.Duration) Option {
	return func(c *Config) {
		c.GenerateTimeout = generate
		c.SpeakTimeout = speak
		c.ShutdownTimeout = shutdown
	}
}

// WithPollInterval sets the speech worker poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithAnticipation enables or disables ANI assessments.
func WithAnticipation(enabled bool) Option {
	return func(c *Config) { c.Anticipation = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithClock overrides the time source used for gating and cooldowns.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Clock = now }
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.SampleStride < 1 {
		errs = append(errs, fmt.Errorf("sample stride must be >= 1, got %d", c.SampleStride))
	}
	if c.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("window size must be >= 1, got %d", c.WindowSize))
	}
	if c.MinHits < 1 || c.MinHits > c.WindowSize {
		errs = append(errs, fmt.Errorf("min hits must be in [1, %d], got %d", c.WindowSize, c.MinHits))
	}
	if c.Cooldown < 0 || c.ForceInterval < 0 {
		errs = append(errs, errors.New("cooldown and force interval must not be negative"))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue capacity must be >= 1, got %d", c.QueueCapacity))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	return errors.Join(errs...)
}
