package unifiedllm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int     // total retry attempts (not counting initial)
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // maximum delay between retries
	BackoffMultiplier float64 // exponential backoff factor
	Jitter            bool    // add random jitter to prevent thundering herd
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64()) // rand in [0,1) -> [0.5, 1.5)
	}
	return time.Duration(delay * float64(time.Second))
}

// Retry executes fn with the configured retry policy.
// Only retryable errors are retried.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}

		// Check for Retry-After on rate limit errors.
		delay := policy.Delay(attempt)
		if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter != nil {
			retryDelay := time.Duration(*rl.RetryAfter * float64(time.Second))
			if retryDelay > time.Duration(policy.MaxDelay*float64(time.Second)) {
				// Retry-After exceeds max_delay; raise immediately.
				return zero, err
			}
			delay = retryDelay
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}

// committedError marks a failure that happened after events reached the
// sink. Replaying the turn would duplicate output, so it is never retried.
type committedError struct{ err error }

func (e *committedError) Error() string { return e.err.Error() }
func (e *committedError) Unwrap() error { return e.err }

// RetryMiddleware retries adapter calls that fail before producing any
// event. Error events from failed attempts are held back and only the last
// one is forwarded.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(ctx context.Context, call TurnCall, sink EventSink, next TurnHandler) (*StreamResult, error) {
		var (
			mu       sync.Mutex
			started  bool
			heldBack StreamEvent
		)
		guarded := SinkFunc(func(ctx context.Context, ev StreamEvent) error {
			mu.Lock()
			if _, isErr := ev.(ErrorEvent); isErr && !started {
				heldBack = ev
				mu.Unlock()
				return nil
			}
			started = true
			mu.Unlock()
			return sink.Emit(ctx, ev)
		})

		res, err := Retry(ctx, policy, func(ctx context.Context) (*StreamResult, error) {
			mu.Lock()
			heldBack = nil
			mu.Unlock()
			res, err := next(ctx, call, guarded)
			if err != nil {
				mu.Lock()
				committed := started
				mu.Unlock()
				if committed {
					return nil, &committedError{err: err}
				}
			}
			return res, err
		})

		var ce *committedError
		if errors.As(err, &ce) {
			err = ce.err
		}
		mu.Lock()
		pending := heldBack
		mu.Unlock()
		if err != nil && pending != nil {
			_ = sink.Emit(ctx, pending)
		}
		return res, err
	}
}
