package errs

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls RetryWithBackoff.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Retryable decides whether an error is worth another attempt.
	// Nil means IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the standard schedule: 1s, 2s, 4s, 8s, 16s, 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Retryable:      IsRetryable,
	}
}

// RetryWithBackoff runs fn until it succeeds, returns a non-retryable
// error, or exhausts MaxRetries. A rate-limit error forces the sleep to
// MaxBackoff regardless of the attempt number. Sleeps are cancellable via
// ctx; an in-flight fn call is never aborted.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	return retry(ctx, cfg, fn, false)
}

// RetryWithJitter behaves like RetryWithBackoff with ±25% uniform jitter
// applied to each sleep, clamped to [InitialBackoff, MaxBackoff].
func RetryWithJitter(ctx context.Context, cfg RetryConfig, fn func() error) error {
	return retry(ctx, cfg, fn, true)
}

func retry(ctx context.Context, cfg RetryConfig, fn func() error, jitter bool) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt == cfg.MaxRetries {
			break
		}

		sleep := backoffFor(attempt, cfg)
		if IsRateLimit(err) {
			sleep = cfg.MaxBackoff
		} else if jitter {
			sleep = applyJitter(sleep, cfg)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// backoffFor computes min(initial * multiplier^attempt, max).
func backoffFor(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxBackoff) {
		return cfg.MaxBackoff
	}
	return time.Duration(d)
}

func applyJitter(d time.Duration, cfg RetryConfig) time.Duration {
	// ±25% uniform.
	j := time.Duration((rand.Float64()*0.5 - 0.25) * float64(d))
	d += j
	if d < cfg.InitialBackoff {
		d = cfg.InitialBackoff
	}
	if d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	return d
}
