package providers

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"donation-settlement-backend/internal/logger"
)

const (
	maxAttempts     = 3
	baseDelay       = 1 * time.Second
	maxDelay        = 30 * time.Second
	exponentialBase = 2.0
)

// withRetry runs fn with exponential backoff and jitter. Used for outbound
// provider calls where a transient network error should not surface as a
// failed donation.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == maxAttempts {
			logger.Error("max retry attempts reached",
				zap.String("op", op),
				zap.Int("attempts", attempt),
				zap.Error(lastErr))
			return lastErr
		}

		delay := time.Duration(float64(baseDelay) * math.Pow(exponentialBase, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		// +/- 10% jitter
		jitter := time.Duration((rand.Float64()*2 - 1) * 0.1 * float64(delay))
		delay += jitter

		logger.Warn("retrying after error",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}
