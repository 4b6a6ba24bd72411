// Package retry provides a reusable retry policy for calls to flaky upstream
// services. A Policy is a plain value: callers compose it around a call with Do.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/bigbio/sdrf-validate/pkg/pipeline/core"
	"golang.org/x/time/rate"
)

// ErrExhausted is matched (via errors.Is) by the error returned once every
// attempt allowed by a Policy failed with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError carries the last retryable failure after the attempt ceiling was reached.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	if e == nil {
		return ErrExhausted.Error()
	}
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted.Error(), e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Policy describes how a call is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one. Values <= 0 mean 1.
	MaxAttempts int

	// Retryable decides whether a failure may be retried. Nil means IsTransient.
	Retryable func(error) bool

	// RequestTimeout bounds each attempt. Zero disables the per-attempt deadline.
	RequestTimeout time.Duration

	// Limiter, when set, is waited on before every attempt. It may be shared between policies.
	Limiter *rate.Limiter

	// BackoffInitial is the sleep before the second attempt. Zero retries immediately.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	// OnRetry is called after a retryable failure that will be retried.
	OnRetry func(attempt int, err error)
}

// NewLimiter returns a limiter for rps requests per second, or nil when rps <= 0.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	if p.BackoffMax < p.BackoffInitial {
		p.BackoffMax = p.BackoffInitial
	}
	return p
}

// Do calls fn until it succeeds, fails permanently, or the attempt ceiling is reached.
//
// Permanent failures are returned unchanged. When every attempt failed with a
// retryable error the result is an *ExhaustedError wrapping the last failure.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var last T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return last, err
			}
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if p.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, p.RequestTimeout)
		}
		out, err := fn(reqCtx)
		if cancel != nil {
			cancel()
		}
		last = out
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return last, ctx.Err()
		}
		if !p.Retryable(err) {
			return last, err
		}
		if attempt >= p.MaxAttempts {
			return last, &ExhaustedError{Attempts: attempt, Err: err}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		sleep := backoffSleep(p.BackoffInitial, p.BackoffMax, p.BackoffJitterFrac, attempt-1)
		if sleep <= 0 {
			continue
		}
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return last, ctx.Err()
		}
	}
}

// IsTransient reports whether err belongs to the transient failure class:
// explicit *core.TransientError, per-attempt deadlines and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
