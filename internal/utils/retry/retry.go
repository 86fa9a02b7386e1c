package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy 重试策略。只用于幂等调用（行情、报价、余额查询）。
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	Exponential bool          // double the delay after each failure
	Label       string
}

// DefaultPolicy mirrors the defaults used for read-only network calls.
func DefaultPolicy(label string) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Exponential: true, Label: label}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn until it succeeds, returns a Permanent error, attempts run out, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for functions returning a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	stopped := false
	op := func() (T, error) {
		v, err := fn(ctx)
		if err != nil {
			lastErr = err
			var perm *backoff.PermanentError
			stopped = errors.As(err, &perm)
		}
		return v, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(attempts), uint64(attempts-1)), ctx)
	v, err := backoff.RetryWithData(op, b)
	switch {
	case err == nil:
		return v, nil
	case stopped:
		return zero, err
	case ctx.Err() != nil:
		return zero, fmt.Errorf("%s: %w (last error: %v)", p.label(), ctx.Err(), lastErr)
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", p.label(), attempts, err)
}

func (p Policy) backOff(attempts int) backoff.BackOff {
	if !p.Exponential {
		return backoff.NewConstantBackOff(p.BaseDelay)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = p.BaseDelay << attempts
	eb.MaxElapsedTime = 0
	return eb
}

func (p Policy) label() string {
	if p.Label == "" {
		return "operation"
	}
	return p.Label
}
