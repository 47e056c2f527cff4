// Package server implements a JSON-RPC 2.0 over HTTP node with reflective service
// registration, a middleware chain and graceful shutdown. It backs the mock node of
// the rpcprobe CLI and the client's integration tests.
//
// Request processing pipeline:
//
//	POST / → ServeHTTP (one goroutine per request, owned by net/http)
//	  → Codec.Decode → Middleware Chain → businessHandler (reflect.Call) → Codec.Encode → write response
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"resilient-rpc/codec"
	"resilient-rpc/message"
	"resilient-rpc/middleware"
	"resilient-rpc/protocol"
	"resilient-rpc/registry"

	"go.uber.org/zap"
)

// RegisterTTL is the lease TTL, in seconds, of the endpoint a serving node registers.
const RegisterTTL = 10

const maxRequestBytes = 1 << 20

// Server is the JSON-RPC node that registers services and handles incoming requests.
type Server struct {
	mu          sync.RWMutex
	methods     map[string]*serviceMethod // "system_chain" → method of a registered service
	middlewares []middleware.Middleware
	// middleware(middleware(...(businessHandler))), rebuilt by Handler
	handler     atomic.Pointer[middleware.HandlerFunc]
	available   atomic.Bool

	codec    codec.Codec
	logger   *zap.Logger
	network  string
	priority int

	httpServer   *http.Server
	listener     net.Listener
	registry     registry.Registry // nil if not using discovery
	advertiseURL string            // URL published in the registry, routable from clients
}

type serviceMethod struct {
	svc   *service
	mtype *methodType
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCodec(c codec.Codec) Option {
	return func(s *Server) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithNetwork sets the network and priority the node registers under.
func WithNetwork(network string, priority int) Option {
	return func(s *Server) {
		s.network = network
		s.priority = priority
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		methods: make(map[string]*serviceMethod),
		codec:   codec.Default(),
		logger:  zap.NewNop(),
		network: "default",
	}
	s.available.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register exposes the exported methods of rcvr (e.g. &System{}) as namespace_method.
func (svr *Server) Register(namespace string, rcvr any) error {
	svc, err := NewService(namespace, rcvr)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	for name := range svc.method {
		if _, dup := svr.methods[name]; dup {
			return fmt.Errorf("rpc: method already defined: %s", name)
		}
	}
	for name, mt := range svc.method {
		svr.methods[name] = &serviceMethod{svc: svc, mtype: mt}
	}
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added
// and must be registered before Handler or Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// SetAvailable toggles the node. An unavailable node answers every request with
// HTTP 503, which clients treat as a transport failure.
func (svr *Server) SetAvailable(ok bool) {
	svr.available.Store(ok)
}

// Methods lists the registered method names, sorted.
func (svr *Server) Methods() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	names := make([]string, 0, len(svr.methods)+1)
	for name := range svr.methods {
		names = append(names, name)
	}
	names = append(names, "rpc_methods")
	sort.Strings(names)
	return names
}

// Handler builds the middleware chain and returns the node as an http.Handler.
func (svr *Server) Handler() http.Handler {
	h := middleware.Chain(svr.middlewares...)(svr.businessHandler)
	svr.handler.Store(&h)
	return svr
}

// Serve listens on addr, registers advertiseURL with reg (nil to skip discovery) and
// serves until Shutdown.
func (svr *Server) Serve(addr, advertiseURL string, reg registry.Registry) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseURL, reg)
}

func (svr *Server) ServeListener(listener net.Listener, advertiseURL string, reg registry.Registry) error {
	svr.mu.Lock()
	svr.listener = listener
	svr.httpServer = &http.Server{
		Handler:           svr.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	svr.advertiseURL = advertiseURL
	svr.registry = reg
	httpServer := svr.httpServer
	svr.mu.Unlock()

	if reg != nil {
		ep := registry.Endpoint{URL: advertiseURL, Priority: svr.priority}
		if err := reg.Register(context.Background(), svr.network, ep, RegisterTTL); err != nil {
			listener.Close()
			return fmt.Errorf("register %s: %w", advertiseURL, err)
		}
		svr.logger.Info("registered endpoint", zap.String("network", svr.network), zap.String("url", advertiseURL))
	}

	svr.logger.Info("rpc node listening", zap.String("addr", listener.Addr().String()))
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address once Serve has started, nil before.
func (svr *Server) Addr() net.Addr {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients resolving endpoints stop seeing this node)
//  2. Stop accepting and wait for in-flight requests, bounded by ctx
func (svr *Server) Shutdown(ctx context.Context) error {
	svr.mu.RLock()
	reg, url, httpServer := svr.registry, svr.advertiseURL, svr.httpServer
	svr.mu.RUnlock()

	var deregErr error
	if reg != nil {
		deregErr = reg.Deregister(ctx, svr.network, url)
	}
	if httpServer == nil {
		return deregErr
	}
	return errors.Join(deregErr, httpServer.Shutdown(ctx))
}

func (svr *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !svr.available.Load() {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req message.Request
	if err := svr.codec.Decode(body, &req); err != nil {
		svr.write(w, errorResponse(nil, protocol.CodeParseError, "Parse error"))
		return
	}
	if req.Method == "" {
		svr.write(w, errorResponse(req.ID, protocol.CodeInvalidRequest, "Invalid request"))
		return
	}

	handler := middleware.HandlerFunc(svr.businessHandler)
	if h := svr.handler.Load(); h != nil {
		handler = *h
	}
	resp, err := handler(r.Context(), &req)
	if err != nil {
		code := protocol.CodeInternalError
		if errors.Is(err, middleware.ErrRateLimited) {
			code = protocol.CodeRateLimited
		}
		svr.logger.Debug("request rejected", zap.String("method", req.Method), zap.Error(err))
		resp = errorResponse(req.ID, code, err.Error())
	}
	svr.write(w, resp)
}

func (svr *Server) write(w http.ResponseWriter, resp *message.Response) {
	data, err := svr.codec.Encode(resp)
	if err != nil {
		svr.logger.Error("failed to encode response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", svr.codec.ContentType())
	w.Write(data)
}

func errorResponse(id json.RawMessage, code int, msg string) *message.Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &message.Response{
		JSONRPC: message.Version,
		ID:      id,
		Error:   &message.RPCError{Code: code, Message: msg},
	}
}

// businessHandler dispatches a request to the registered method.
//
// Flow: find method → reflect.New(args) → decode params → reflect.Call → encode reply
func (svr *Server) businessHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	if req.Method == "rpc_methods" {
		return svr.reply(req, map[string]any{"version": 1, "methods": svr.Methods()})
	}

	svr.mu.RLock()
	sm := svr.methods[req.Method]
	svr.mu.RUnlock()
	if sm == nil {
		return errorResponse(req.ID, protocol.CodeMethodNotFound, protocol.MethodNotFoundMessage), nil
	}

	argv := reflect.New(sm.mtype.ArgType)
	if err := decodeParams(svr.codec, req.Params, sm.mtype.ArgType, argv.Interface()); err != nil {
		return errorResponse(req.ID, protocol.CodeInvalidParams, err.Error()), nil
	}
	replyv := reflect.New(sm.mtype.ReplyType)

	if err := sm.svc.Call(sm.mtype, argv, replyv); err != nil {
		svr.logger.Debug("method failed", zap.String("method", req.Method), zap.Error(err))
		return errorResponse(req.ID, protocol.CodeServerError, err.Error()), nil
	}
	return svr.reply(req, replyv.Interface())
}

func (svr *Server) reply(req *message.Request, v any) (*message.Response, error) {
	result, err := svr.codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", req.Method, err)
	}
	return &message.Response{JSONRPC: message.Version, ID: req.ID, Result: result}, nil
}

// decodeParams fills argv from the params array: slice and array argument types take the
// whole array, anything else takes the first element. No params leaves argv zero.
func decodeParams(c codec.Codec, params json.RawMessage, argType reflect.Type, argv any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if argType.Kind() == reflect.Slice || argType.Kind() == reflect.Array {
		return c.Decode(params, argv)
	}
	var list []json.RawMessage
	if err := c.Decode(params, &list); err != nil {
		// by-name params
		return c.Decode(params, argv)
	}
	if len(list) == 0 || argType == reflect.TypeOf(Empty{}) {
		return nil
	}
	return c.Decode(list[0], argv)
}
