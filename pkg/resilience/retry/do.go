package retry

import (
	"context"
	"errors"

	"careflow/pkg/resilience/circuit"
)

// Do runs call against the named dependency with retries, routing every
// attempt through the dependency's circuit breaker. On a breaker rejection
// the error propagates immediately without retrying. Transient failures
// are retried up to the policy's budget with backoff between attempts;
// the backoff sleep aborts as soon as ctx is canceled.
//
// The type-safe signature mirrors the generic wrappers the call sites use
// so callers never see the breaker's any-typed plumbing.
func Do[T any](ctx context.Context, policy *Policy, breakers *circuit.Registry, dependency string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	maxAttempts := policy.config.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := breakers.Execute(dependency, func() (any, error) {
			return call(ctx)
		})
		if err == nil {
			typed, ok := result.(T)
			if !ok && result != nil {
				// Defensive cast failure cannot happen through this wrapper.
				return zero, errors.New("retry: unexpected result type from call")
			}
			return typed, nil
		}

		// A rejection from an open breaker is terminal for this request:
		// retrying provides no information until the cooldown elapses.
		var openErr *circuit.OpenError
		if errors.As(err, &openErr) {
			return zero, err
		}

		if !policy.ShouldRetry(err) {
			return zero, err
		}

		lastErr = err
		if attempt >= maxAttempts {
			break
		}

		if sleepErr := policy.sleep(ctx, policy.Delay(attempt)); sleepErr != nil {
			return zero, sleepErr
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, LastCause: lastErr}
}
