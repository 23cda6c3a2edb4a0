package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	Enabled            bool           // Enable/disable retry logic
	MaxAttempts        int            // Maximum number of retry attempts
	InitialDelay       time.Duration  // Delay before the first retry
	MaxDelay           time.Duration  // Upper bound applied before jitter
	Multiplier         float64        // Exponential backoff multiplier (typically 2.0)
	Jitter             float64        // Relative jitter, e.g. 0.25 for ±25%; 0 disables
	Rand               func() float64 // Source of uniform [0,1) values; nil uses math/rand
	NonRetryableErrors []error        // Errors that abort retrying immediately
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// Retry executes fn with exponential backoff until it succeeds, a
// non-retryable error is returned, attempts run out or ctx is done.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that produce a value.
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T

	if !cfg.Enabled {
		return fn()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isNonRetryable(err, cfg.NonRetryableErrors) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(Delay(cfg, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// BaseDelay returns InitialDelay * Multiplier^exponent capped at MaxDelay,
// without jitter.
func BaseDelay(cfg Config, exponent int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(exponent))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// Delay returns BaseDelay with uniform jitter in [base*(1-J), base*(1+J)].
func Delay(cfg Config, exponent int) time.Duration {
	base := BaseDelay(cfg, exponent)
	if cfg.Jitter <= 0 {
		return base
	}
	r := cfg.Rand
	if r == nil {
		r = rand.Float64
	}
	factor := 1 - cfg.Jitter + 2*cfg.Jitter*r()
	return time.Duration(float64(base) * factor)
}

func isNonRetryable(err error, nonRetryableErrors []error) bool {
	for _, target := range nonRetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
