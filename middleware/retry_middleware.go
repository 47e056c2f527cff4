package middleware

import (
	"context"
	"fmt"
	"time"

	"resilient-rpc/message"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// LinearBackOff waits Base*n after the n-th failed attempt, so attempt k (k >= 2)
// starts Base*(k-1) after attempt k-1 failed.
type LinearBackOff struct {
	Base time.Duration
	n    int64
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.Base * time.Duration(b.n)
}

func (b *LinearBackOff) Reset() {
	b.n = 0
}

// RetryPolicy configures RetryMiddleware.
type RetryPolicy struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // backoff unit
	// Retryable reports whether a failed attempt may be retried. nil retries everything.
	Retryable func(err error) bool
	// NewTimer creates the timer used to wait between attempts. nil uses a real timer.
	NewTimer func() backoff.Timer
	Logger   *zap.Logger
}

// Delay returns the wait before attempt k (1-based). The first attempt never waits.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt-1)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	// no retries: the first failure ends the call
	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(&LinearBackOff{Base: p.BaseDelay}, uint64(p.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// ExhaustedError is returned when every attempt the policy allows has failed.
type ExhaustedError struct {
	Attempts int
	Err      error // last attempt's error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed, last error: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// RetryMiddleware runs next up to MaxRetries+1 times with linear backoff.
//
//   - a non-retryable error is returned as is, together with the response next produced
//   - cancellation of ctx while waiting returns ctx.Err()
//   - running out of attempts returns *ExhaustedError
func RetryMiddleware(policy RetryPolicy) Middleware {
	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			var (
				resp     *message.Response
				attempts int
				stopped  bool
			)

			operation := func() error {
				attempts++
				r, err := next(ctx, req)
				resp = r
				if err != nil && policy.Retryable != nil && !policy.Retryable(err) {
					stopped = true
					return backoff.Permanent(err)
				}
				return err
			}

			notify := func(err error, wait time.Duration) {
				logger.Warn("rpc attempt failed, retrying",
					zap.String("method", req.Method),
					zap.Int("attempt", attempts),
					zap.Int("max_retries", policy.MaxRetries),
					zap.Duration("backoff", wait),
					zap.Error(err),
				)
			}

			var timer backoff.Timer
			if policy.NewTimer != nil {
				timer = policy.NewTimer()
			}

			err := backoff.RetryNotifyWithTimer(operation, policy.backOff(ctx), notify, timer)
			switch {
			case err == nil:
				return resp, nil
			case stopped:
				return resp, err
			case ctx.Err() != nil:
				return nil, ctx.Err()
			default:
				logger.Error("all rpc attempts failed",
					zap.String("method", req.Method),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				return nil, &ExhaustedError{Attempts: attempts, Err: err}
			}
		}
	}
}
