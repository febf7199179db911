package errors

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig is a retry policy.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	// Jitter spreads each backoff by up to +/- this fraction.
	Jitter float64

	// AttemptTimeout bounds each attempt. An expired attempt fails with a
	// TimeoutError, which is transient. Zero means no bound.
	AttemptTimeout time.Duration

	// RetryableFunc replaces IsRetryable.
	RetryableFunc func(error) bool

	// OnAttemptFailed runs after every failed attempt, the last included,
	// before any backoff.
	OnAttemptFailed func(attempt int, err error)
}

// DefaultRetry is used for LLM calls: three attempts, 2s doubling to an 8s
// cap, five minutes per attempt.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     8 * time.Second,
	BackoffFactor:  2.0,
	AttemptTimeout: 5 * time.Minute,
}

// PersistRetry is used for run store commits.
var PersistRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// Outcome is what Do returns.
type Outcome[T any] struct {
	Value T
	// Err is a *CategorizedError when non-nil.
	Err      error
	Attempts int
	// Exhausted is set when the last attempt still failed retryably.
	Exhausted bool
	Duration  time.Duration
}

// Do calls fn until it succeeds, fails with a non-retryable error, runs out
// of attempts, or ctx is done.
func Do[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) Outcome[T] {
	start := time.Now()
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)
	backoff := cfg.InitialBackoff

	stop := func(err error, n int, op string, exhausted bool) Outcome[T] {
		cat := Categorize(err)
		if errors.Is(err, context.Canceled) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil) {
			cat = CategoryPermanent
		}
		return Outcome[T]{
			Err:       &CategorizedError{Err: err, Category: cat, Attempts: n, Op: op},
			Attempts:  n,
			Exhausted: exhausted,
			Duration:  time.Since(start),
		}
	}

	var err error
	for n := 1; n <= attempts; n++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stop(ctxErr, n-1, "cancelled", false)
		}

		var v T
		v, err = attempt(ctx, cfg.AttemptTimeout, fn)
		if err == nil {
			return Outcome[T]{Value: v, Attempts: n, Duration: time.Since(start)}
		}
		if cfg.OnAttemptFailed != nil {
			cfg.OnAttemptFailed(n, err)
		}
		if !retryable(err) {
			return stop(err, n, "", false)
		}
		if n == attempts {
			break
		}

		timer := time.NewTimer(jittered(backoff, cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return stop(ctx.Err(), n, "cancelled during backoff", false)
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return stop(err, attempts, "retries exhausted", true)
}

// attempt runs fn once under its own deadline. Only the attempt's deadline
// becomes a TimeoutError; the parent's passes through.
func attempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return v, &TimeoutError{Op: err.Error(), After: timeout}
	}
	return v, err
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter * (2*rand.Float64() - 1)
	return d + time.Duration(delta)
}
