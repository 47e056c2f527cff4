package middleware

import (
	"context"
	"time"

	"resilient-rpc/message"
	"resilient-rpc/transport"
)

// TimeOutMiddleware bounds next by timeout. next runs on the caller's goroutine and must
// honour ctx, so whatever it records about a timed-out attempt is visible before the
// next attempt starts. The deadline carries transport.ErrAttemptTimeout as its cause so
// it can be told apart from a deadline of the caller.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeoutCause(ctx, timeout, transport.ErrAttemptTimeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}
