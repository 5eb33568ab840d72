// Package retry retries broker calls with jittered exponential backoff
package retry

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Do runs fn until it succeeds, returns a non-transient error, or the
// attempts are used up. The last error is returned.
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) || attempt == attempts-1 {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(backoff)):
			backoff = min(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

// jitter returns backoff plus up to 50% of it
func jitter(backoff time.Duration) time.Duration {
	if half := int64(backoff / 2); half > 0 {
		return backoff + time.Duration(rand.Int63n(half))
	}
	return backoff
}
