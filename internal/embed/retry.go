package embed

import (
	"context"
	"log/slog"
	"time"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

// withRetry runs fn with bounded exponential backoff for retryable errors.
// Non-retryable errors (including context cancellation) return immediately.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}

	var err error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying embedding request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !memexerrors.IsRetryable(err) {
			return err
		}
	}
	return err
}
