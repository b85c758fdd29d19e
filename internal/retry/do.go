package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs fn inline, retrying retryable failures on the configured
// schedule. It is meant for startup work such as connecting to a database,
// where there is nothing else to do until fn succeeds.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()
	attempts := cfg.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if Classify(err) != Retryable {
			return err
		}
		if attempt == attempts {
			break
		}

		idx := min(attempt-1, len(cfg.Delays)-1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Delays[idx]):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
