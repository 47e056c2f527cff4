// Package client implements a JSON-RPC client that hides transient node failures behind
// a bounded retry policy.
//
// One logical Call runs up to MaxRetries+1 attempts:
//
//	Retry → Logging → [extra] → [Throttle] → Timeout → attempt
//
// Each attempt goes to the active endpoint of the ranked set. A failed attempt moves the
// active endpoint forward (see loadbalance), and a working fallback stays active for later
// calls. A node answering "method not found" ends the call at once with an unsupported
// Result: the node is healthy, it just lacks the capability.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"resilient-rpc/codec"
	"resilient-rpc/loadbalance"
	"resilient-rpc/message"
	"resilient-rpc/metrics"
	"resilient-rpc/middleware"
	"resilient-rpc/protocol"
	"resilient-rpc/transport"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Client struct {
	cfg       Config
	endpoints []string // immutable after New
	balancer  loadbalance.Balancer
	transport transport.Transport
	codec     codec.Codec
	logger    *zap.Logger
	metrics   *metrics.Collector

	unsupported protocol.UnsupportedFunc
	newTimer    func() backoff.Timer
	extra       []middleware.Middleware
	handler     middleware.HandlerFunc

	nextID atomic.Uint64

	mu        sync.Mutex // guards connected and lastError
	connected bool
	lastError error
}

// State is a snapshot of the client's connectivity.
type State struct {
	ActiveEndpoint int
	Endpoint       string
	Connected      bool
	LastError      error
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithTimerFactory sets the timer used for backoff waits; tests pass a fake one.
func WithTimerFactory(newTimer func() backoff.Timer) Option {
	return func(c *Client) {
		c.newTimer = newTimer
	}
}

// WithUnsupportedPredicate decides which error objects mean "method not supported".
func WithUnsupportedPredicate(fn protocol.UnsupportedFunc) Option {
	return func(c *Client) {
		c.unsupported = fn
	}
}

// WithMiddleware adds middlewares that run once per attempt, after logging.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) {
		c.extra = append(c.extra, mws...)
	}
}

// New validates cfg and creates a client. The endpoint list is copied.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		endpoints:   append([]string(nil), cfg.Endpoints...),
		balancer:    loadbalance.NewStickyFailoverBalancer(len(cfg.Endpoints)),
		codec:       codec.Default(),
		logger:      zap.NewNop(),
		unsupported: protocol.DefaultUnsupported,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = transport.NewHTTPTransport(transport.WithCodec(c.codec))
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.unsupported == nil {
		c.unsupported = protocol.DefaultUnsupported
	}
	c.logger = c.logger.With(zap.String("component", "rpc_client"))

	mws := []middleware.Middleware{
		middleware.RetryMiddleware(middleware.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseRetryDelay,
			Retryable:  isRetryable,
			NewTimer:   c.newTimer,
			Logger:     c.logger,
		}),
		middleware.LoggingMiddleware(c.logger),
	}
	mws = append(mws, c.extra...)
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.ThrottleMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	mws = append(mws, middleware.TimeOutMiddleware(cfg.RequestTimeout))
	c.handler = middleware.Chain(mws...)(c.attempt)

	return c, nil
}

// Only failures that are the endpoint's fault are retried; "method not found",
// caller cancellation and encoding errors are not.
func isRetryable(err error) bool {
	var te *transport.TransportError
	return errors.As(err, &te)
}

// Call invokes method with positional params.
//
// It returns a Result with the raw result, or a Result with Unsupported set when the node
// does not know the method. After every attempt failed it returns *UnavailableError.
// Cancelling ctx abandons the call and returns the context error without touching the
// connectivity state.
func (c *Client) Call(ctx context.Context, method string, params ...any) (Result, error) {
	if strings.TrimSpace(method) == "" {
		return Result{}, fmt.Errorf("%w: empty method", ErrInvalidRequest)
	}
	if params == nil {
		params = []any{}
	}
	raw, err := c.codec.Encode(params)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode params: %v", ErrInvalidRequest, err)
	}
	req := message.NewRequest(c.nextID.Add(1), method, raw)

	resp, err := c.handler(ctx, req)
	if err == nil {
		c.metrics.CallDone(method, "ok")
		return Result{Raw: resp.Result}, nil
	}

	if errors.Is(err, ErrUnsupportedMethod) {
		c.logger.Warn("rpc method not supported by node", zap.String("method", method))
		c.metrics.CallDone(method, "unsupported")
		return Result{Unsupported: true}, nil
	}

	var exhausted *middleware.ExhaustedError
	if errors.As(err, &exhausted) {
		c.markUnavailable(exhausted.Err)
		c.metrics.CallDone(method, "unavailable")
		return Result{}, &UnavailableError{Method: method, Attempts: exhausted.Attempts, Err: exhausted.Err}
	}

	c.metrics.CallDone(method, "aborted")
	return Result{}, fmt.Errorf("rpc %s: %w", method, err)
}

// attempt sends req once to the active endpoint and records what happened.
func (c *Client) attempt(ctx context.Context, req *message.Request) (*message.Response, error) {
	index := c.balancer.Pick()
	endpoint := c.endpoints[index]

	start := time.Now()
	resp, err := c.transport.Send(ctx, endpoint, req)
	if err == nil {
		switch protocol.Classify(resp, c.unsupported) {
		case protocol.OutcomeResult:
			c.metrics.ObserveAttempt(endpoint, "ok", time.Since(start))
			c.markConnected()
			return resp, nil
		case protocol.OutcomeUnsupported:
			c.metrics.ObserveAttempt(endpoint, "unsupported", time.Since(start))
			return resp, ErrUnsupportedMethod
		default:
			err = &transport.TransportError{Endpoint: endpoint, Kind: transport.KindServer, Err: resp.Error}
		}
	}

	var te *transport.TransportError
	if !errors.As(err, &te) {
		return nil, err
	}
	c.metrics.ObserveAttempt(endpoint, te.Kind.String(), time.Since(start))
	c.recordFailure(index, err)
	return nil, err
}

func (c *Client) recordFailure(index int, err error) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()

	if next, moved := c.balancer.Failed(index); moved {
		c.logger.Warn("switching to backup rpc endpoint",
			zap.String("from", c.endpoints[index]),
			zap.String("to", c.endpoints[next]),
			zap.Error(err),
		)
		c.metrics.Failover(c.endpoints[index], c.endpoints[next])
	}
}

func (c *Client) markConnected() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.metrics.SetConnected(true)
}

func (c *Client) markUnavailable(err error) {
	c.mu.Lock()
	c.connected = false
	c.lastError = err
	c.mu.Unlock()
	c.metrics.SetConnected(false)

	if !c.cfg.KeepFailoverOnExhaustion {
		c.balancer.Reset()
	}
}

// IsConnected reports whether the last completed call reached a node.
// It is false until the first successful call.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) State() State {
	index := c.balancer.Pick()
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		ActiveEndpoint: index,
		Endpoint:       c.endpoints[index],
		Connected:      c.connected,
		LastError:      c.lastError,
	}
}

// Endpoints returns a copy of the ranked endpoint set.
func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}
