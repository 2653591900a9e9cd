package patcher

import (
	"context"
	"fmt"
	"time"

	"github.com/3leaps/amipatch/pkg/command"
)

// RetryPolicy defines retry behavior for an operation the caller expects to
// fail transiently, such as launching from an image that is not ready yet.
type RetryPolicy struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay" json:"max_delay"`
}

// DefaultRetryPolicy returns the default launch retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  5 * time.Second,
		MaxDelay:   time.Minute,
	}
}

// retryWithBackoff runs fn, retrying with exponential backoff while
// shouldRetry accepts the error.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, sleeper command.Sleeper, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			if err := sleeper.Sleep(ctx, backoff(attempt, policy.BaseDelay, policy.MaxDelay)); err != nil {
				return fmt.Errorf("retry cancelled: %w", err)
			}
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

// backoff returns base * 2^attempt capped at max.
func backoff(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt)
	if max > 0 && (d > max || d <= 0) {
		return max
	}
	return d
}
