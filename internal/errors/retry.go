package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"codecoder/internal/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int           // Total attempts including the first.
	BaseDelay    time.Duration // Base delay for exponential backoff.
	MaxDelay     time.Duration // Cap on the delay between attempts.
	JitterFactor float64       // Randomization factor, 0 disables jitter.
}

// DefaultRetryConfig returns the defaults for transient I/O.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// ProviderRetryConfig returns the retry policy for provider requests:
// min(2s·2^attempt, 30s), five attempts, no jitter so a server-supplied
// Retry-After is honored exactly.
func ProviderRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		BaseDelay:    2 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0,
	}
}

// Retry executes fn with exponential backoff until it succeeds, returns a
// non-transient error, exhausts attempts, or ctx is cancelled.
func Retry(ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, config, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is Retry for operations that produce a value.
//
// A TransientError carrying RetryAfter overrides the computed backoff for
// that wait. Waits observe ctx so an abort cancels the retry loop.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	logger = logging.OrNop(logger)

	var lastErr error
	var zero T

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("cancelled before attempt: %w", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded on attempt %d/%d", attempt+1, config.MaxAttempts)
			}
			return result, nil
		}

		lastErr = err
		logger.Debug("attempt %d/%d failed: %v", attempt+1, config.MaxAttempts, err)

		if !IsTransient(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts-1 {
			logger.Warn("max attempts (%d) exhausted", config.MaxAttempts)
			break
		}

		delay := calculateBackoff(attempt, config)
		if after := RetryAfterSeconds(err); after > 0 {
			delay = time.Duration(after) * time.Second
		}
		logger.Debug("waiting %v before next attempt", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("cancelled during backoff: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max attempts exceeded: %w", lastErr)
}

// calculateBackoff returns min(base·2^attempt, max) with optional jitter.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(config.BaseDelay) * multiplier)
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return delay
}
