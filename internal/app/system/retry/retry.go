// internal/app/system/retry/retry.go

// Package retry wraps fallible store operations in bounded retry policies.
//
// Three policies are provided:
//   - Default: transient store throttling only, fixed delay, bounded by both
//     attempt count and cumulative elapsed time.
//   - Exponential: throttling only, delay doubling per attempt up to a cap.
//   - Concurrency: optimistic-concurrency conflicts only, a few immediate
//     retries, since a stale write on a session document clears as soon as
//     the competing writer commits.
//
// When a policy gives up, the last error is returned unchanged. Callers cannot
// tell "gave up" from "failed once" except through the error itself.
package retry

import (
	"context"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/metrics"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
)

// Policy describes when and how often an operation is retried.
type Policy struct {
	// Name labels metrics.
	Name string
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// MaxElapsed bounds the cumulative time spent across attempts and waits.
	// Zero means no elapsed budget.
	MaxElapsed time.Duration
	// Backoff returns the wait before the given retry (1 for the first retry).
	Backoff func(retry int) time.Duration
	// Retryable decides whether an error is worth another attempt.
	Retryable func(err error) bool
}

// Default values. Exposed so tests and config can derive variants.
const (
	DefaultMaxAttempts = 5
	DefaultMaxElapsed  = 30 * time.Second
	DefaultDelay       = 500 * time.Millisecond

	ExponentialMaxAttempts = 10
	ExponentialStart       = 100 * time.Millisecond
	ExponentialCap         = 5 * time.Second

	ConcurrencyMaxAttempts = 5
)

// Default retries store throttling with a fixed delay.
func Default() Policy {
	return Policy{
		Name:        "default",
		MaxAttempts: DefaultMaxAttempts,
		MaxElapsed:  DefaultMaxElapsed,
		Backoff:     Constant(DefaultDelay),
		Retryable:   storeerr.IsThrottled,
	}
}

// Exponential retries store throttling with a doubling, capped delay.
func Exponential() Policy {
	return Policy{
		Name:        "exponential",
		MaxAttempts: ExponentialMaxAttempts,
		MaxElapsed:  DefaultMaxElapsed,
		Backoff:     Doubling(ExponentialStart, ExponentialCap),
		Retryable:   storeerr.IsThrottled,
	}
}

// Concurrency retries optimistic-concurrency conflicts immediately.
func Concurrency() Policy {
	return Policy{
		Name:        "concurrency",
		MaxAttempts: ConcurrencyMaxAttempts,
		Backoff:     Constant(0),
		Retryable:   storeerr.IsStaleWrite,
	}
}

// Constant returns a backoff that always waits d.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Doubling returns a backoff of start, 2*start, 4*start, ... capped at max.
func Doubling(start, max time.Duration) func(int) time.Duration {
	return func(retry int) time.Duration {
		d := start
		for i := 1; i < retry; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// Do runs op under policy p.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue runs op under policy p and returns its result.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	start := time.Now()

	var (
		v   T
		err error
	)
	for attempt := 1; ; attempt++ {
		v, err = op(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return v, err
		}
		if attempt >= maxAttempts {
			metrics.RetryExhausted.WithLabelValues(p.Name).Inc()
			return v, err
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if p.MaxElapsed > 0 && time.Since(start)+wait > p.MaxElapsed {
			metrics.RetryExhausted.WithLabelValues(p.Name).Inc()
			return v, err
		}

		metrics.RetryAttempts.WithLabelValues(p.Name).Inc()
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return v, err
			case <-t.C:
			}
		}
	}
}
