package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"resilient-rpc/codec"
	"resilient-rpc/message"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 10 << 20

// HTTPTransport POSTs JSON-RPC envelopes over HTTP.
// The underlying http.Client pools connections per host, so one HTTPTransport is
// shared by every attempt of a client.
type HTTPTransport struct {
	client       *http.Client
	codec        codec.Codec
	maxBodyBytes int64
}

type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the pooled, traced default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

func WithCodec(c codec.Codec) HTTPOption {
	return func(t *HTTPTransport) {
		t.codec = c
	}
}

func WithMaxBodyBytes(n int64) HTTPOption {
	return func(t *HTTPTransport) {
		t.maxBodyBytes = n
	}
}

// NewHTTPTransport creates a transport on top of a pooled cleanhttp transport wrapped
// with otelhttp, so trace context propagates to nodes that understand it.
// There is no client-level timeout: each attempt is bounded by its context.
func NewHTTPTransport(opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		client: &http.Client{
			Transport: otelhttp.NewTransport(cleanhttp.DefaultPooledTransport()),
		},
		codec:        codec.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send encodes req, POSTs it to endpoint and decodes the reply envelope.
// Caller cancellation and caller deadlines are returned as the context error, not as a
// TransportError.
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, req *message.Request) (*message.Response, error) {
	body, err := t.codec.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Kind: KindNetwork, Err: err}
	}
	httpReq.Header.Set("Content-Type", t.codec.ContentType())
	httpReq.Header.Set("Accept", t.codec.ContentType())

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(ctx, endpoint, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, t.maxBodyBytes))
	if err != nil {
		return nil, classifyError(ctx, endpoint, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &TransportError{
			Endpoint:   endpoint,
			Kind:       KindHTTPStatus,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("unexpected HTTP status %q", httpResp.Status),
		}
	}

	var resp message.Response
	if err := t.codec.Decode(data, &resp); err != nil {
		// well-formed but not an envelope: a reply with neither result nor error
		if t.codec.Valid(data) {
			return &message.Response{}, nil
		}
		return nil, &TransportError{Endpoint: endpoint, Kind: KindDecode, Err: err}
	}
	return &resp, nil
}

func classifyError(ctx context.Context, endpoint string, err error) error {
	if ctx.Err() != nil {
		if errors.Is(context.Cause(ctx), ErrAttemptTimeout) {
			return &TransportError{Endpoint: endpoint, Kind: KindTimeout, Err: err}
		}
		return ctx.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Endpoint: endpoint, Kind: KindTimeout, Err: err}
	}
	return &TransportError{Endpoint: endpoint, Kind: KindNetwork, Err: err}
}
