// Package retry runs caller-side retries with jittered exponential backoff
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how to retry an operation
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc reports whether an error is worth another attempt
type IsTransientFunc func(error) bool

// Do runs fn until it succeeds, returns a non-transient error, the attempts
// are used up, or ctx ends. The last error from fn is returned unchanged.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if isTransient == nil || !isTransient(err) || attempt == policy.MaxAttempts-1 {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withJitter(backoff)):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

// withJitter adds up to 50% random jitter
func withJitter(d time.Duration) time.Duration {
	if half := int64(d / 2); half > 0 {
		return d + time.Duration(rand.Int63n(half))
	}
	return d
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
