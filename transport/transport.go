// Package transport implements the client-side transport layer: one JSON-RPC request
// POSTed to one endpoint, one decoded response back.
//
// Every failure that should count against an endpoint is returned as a *TransportError
// so the retry layer can tell it apart from caller cancellation and encoding bugs:
//
//	dial refused / reset            → KindNetwork
//	attempt deadline / net timeout  → KindTimeout
//	non-2xx status                  → KindHTTPStatus
//	body is not JSON                → KindDecode
//
// A deadline of the caller's own ctx is not the endpoint's fault and comes back as the
// plain context error. Only a ctx whose cause is ErrAttemptTimeout counts as a timeout.
//
// KindServer is not produced here; the client uses it for error objects that are not
// "method not found".
package transport

import (
	"context"
	"errors"
	"fmt"

	"resilient-rpc/message"
)

// ErrAttemptTimeout is the cause attached to the deadline of a single attempt.
var ErrAttemptTimeout = errors.New("rpc attempt timed out")

// Transport sends a request to a single endpoint.
// Implementations must honour ctx: the per-attempt timeout is carried by it.
type Transport interface {
	Send(ctx context.Context, endpoint string, req *message.Request) (*message.Response, error)
}

// Kind tells why an attempt failed.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindHTTPStatus
	KindDecode
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindDecode:
		return "decode"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// TransportError is a retryable failure of a single attempt against Endpoint.
type TransportError struct {
	Endpoint   string
	Kind       Kind
	StatusCode int // set for KindHTTPStatus
	Err        error
}

func (e *TransportError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("%s: %s %d: %v", e.Endpoint, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
