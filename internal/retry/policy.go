// Package retry implements the table-driven retry strategies and backoff
// helpers described in spec §4.6.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shopping-copilot/core/internal/errs"
)

// Policy describes one row of the retry matrix in spec §4.6.
type Policy struct {
	Strategy    errs.RetryStrategy
	MaxAttempts int
	// Delays lists the fixed backoff delays to use in order, one per retry
	// (index 0 is the delay before the second attempt).
	Delays []time.Duration
}

// NetworkTimeoutPolicy: exponential backoff 1/2/4s, max 3 attempts.
func NetworkTimeoutPolicy() Policy {
	return Policy{
		Strategy:    errs.RetryExponentialNetwork,
		MaxAttempts: 3,
		Delays:      []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// DOMNotFoundPolicy: immediate retry, 500ms gap, max 3 attempts.
func DOMNotFoundPolicy() Policy {
	return Policy{
		Strategy:    errs.RetryImmediateDOM,
		MaxAttempts: 3,
		Delays:      []time.Duration{500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond},
	}
}

// RateLimitedLLMPolicy: exponential 30/60/120s, max 3 attempts.
func RateLimitedLLMPolicy() Policy {
	return Policy{
		Strategy:    errs.RetryExponentialLLM,
		MaxAttempts: 3,
		Delays:      []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second},
	}
}

// AbortPolicy covers invalid state / quota / permission / selector
// page-changed errors: abort, no retries.
func AbortPolicy() Policy {
	return Policy{Strategy: errs.RetryNone, MaxAttempts: 0, Delays: nil}
}

// PolicyFor selects the retry policy for a classified error, per the retry
// matrix in spec §4.6.
func PolicyFor(err error) Policy {
	e, ok := err.(*errs.E)
	if !ok || e == nil {
		return AbortPolicy()
	}
	switch e.Type {
	case errs.TypeTimeout, errs.TypeNetworkError:
		return NetworkTimeoutPolicy()
	case errs.TypeElementNotFound:
		return DOMNotFoundPolicy()
	case errs.TypeRateLimited:
		return RateLimitedLLMPolicy()
	default:
		return AbortPolicy()
	}
}

// exponentialBackOff builds a cenkalti/backoff/v5 ExponentialBackOff seeded
// from the policy's fixed delay table so successive NextBackOff calls track
// the matrix's delays rather than the library's default curve.
func exponentialBackOff(policy Policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if len(policy.Delays) > 0 {
		b.InitialInterval = policy.Delays[0]
	}
	if len(policy.Delays) > 0 {
		b.MaxInterval = policy.Delays[len(policy.Delays)-1]
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

// Do runs fn up to policy.MaxAttempts times, sleeping between attempts
// according to the policy's fixed delay table (via cenkalti/backoff/v5's
// ExponentialBackOff, reset at the start of each call so repeated calls to
// Do with the same policy always replay the same delay sequence).
func Do(ctx context.Context, policy Policy, fn func(attempt int) error) error {
	if policy.MaxAttempts <= 0 {
		return fn(0)
	}
	backoffCfg := exponentialBackOff(policy)
	backoffCfg.Reset()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = policy.Delays[len(policy.Delays)-1]
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
