package describe

import (
	"context"
	"log/slog"
	"time"
)

// withRetry runs call up to cfg.MaxRetries+1 times, backing off
// RetryDelay·2^n between attempts. Client errors and cancellation end the
// loop immediately.
func withRetry(ctx context.Context, cfg *Config, logger *slog.Logger, call func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.RetryDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := call(ctx)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
		if attempt < cfg.MaxRetries {
			logger.Warn("retrying generation", "attempt", attempt+1, "error", err)
		}
	}
	return "", lastErr
}
