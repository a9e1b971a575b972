package describe

import (
	"context"
	"log/slog"
	"strings"
)

// Chain implements Generator by trying generators in order.
// The first one that answers without error wins, even with an empty
// narration; if all fail, returns a *ChainError.
type Chain struct {
	generators []Generator
	logger     *slog.Logger
}

// NewChain creates a generator chain. At least one generator is required.
func NewChain(logger *slog.Logger, generators ...Generator) (*Chain, error) {
	if len(generators) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		generators: generators,
		logger:     logger.With("component", "describe.chain"),
	}, nil
}

// Name lists the chained generators.
func (c *Chain) Name() string {
	names := make([]string, len(c.generators))
	for i, g := range c.generators {
		names[i] = g.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Describe tries each generator until one succeeds.
func (c *Chain) Describe(ctx context.Context, req Request) (string, error) {
	var errs []error
	for i, g := range c.generators {
		text, err := g.Describe(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback generator succeeded", "generator", g.Name())
			}
			return text, nil
		}

		errs = append(errs, err)
		c.logger.Warn("generator failed, trying next", "generator", g.Name(), "error", err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", &ChainError{Errors: errs}
}

var _ Generator = (*Chain)(nil)
