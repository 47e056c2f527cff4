package middleware

import (
	"context"

	"resilient-rpc/message"
)

// HandlerFunc handles one JSON-RPC request. On the client it is one attempt against the
// active endpoint; on the server it is the method dispatcher.
type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
