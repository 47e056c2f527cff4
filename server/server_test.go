package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"resilient-rpc/message"
	"resilient-rpc/middleware"
	"resilient-rpc/protocol"
	"resilient-rpc/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type Args struct {
	A, B int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *int) error {
	*reply = args.A + args.B
	return nil
}

func (a *Arith) Sum(args *[]int, reply *int) error {
	for _, n := range *args {
		*reply += n
	}
	return nil
}

func (a *Arith) Divide(args *Args, reply *int) error {
	if args.B == 0 {
		return errors.New("divide by zero")
	}
	*reply = args.A / args.B
	return nil
}

// 不符合签名的方法不会被注册
func (a *Arith) Helper() int { return 0 }

func newTestNode(t *testing.T, mws ...middleware.Middleware) (*Server, *httptest.Server) {
	t.Helper()
	svr := NewServer(WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, svr.Register("arith", &Arith{}))
	require.NoError(t, svr.Register("system", NewSystem("Midnight Devnet", "mock-node", "0.1.0")))
	for _, mw := range mws {
		svr.Use(mw)
	}
	ts := httptest.NewServer(svr.Handler())
	t.Cleanup(ts.Close)
	return svr, ts
}

func post(t *testing.T, url, body string) (*http.Response, *message.Response) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	var out message.Response
	require.NoError(t, json.Unmarshal(data, &out))
	return resp, &out
}

func TestRegisterNames(t *testing.T) {
	svr := NewServer()
	require.NoError(t, svr.Register("arith", &Arith{}))
	assert.Equal(t, []string{"arith_add", "arith_divide", "arith_sum", "rpc_methods"}, svr.Methods())

	assert.Error(t, svr.Register("arith", &Arith{}), "duplicate namespace")
	assert.Error(t, svr.Register("x", Arith{}), "rcvr must be a pointer")
	assert.Error(t, svr.Register("", &Arith{}))

	var n int
	assert.Error(t, svr.Register("x", &n))
}

func TestServerDispatch(t *testing.T) {
	_, ts := newTestNode(t)

	cases := []struct {
		name   string
		body   string
		result string
	}{
		{"positional struct", `{"jsonrpc":"2.0","id":1,"method":"arith_add","params":[{"A":1,"B":2}]}`, `3`},
		{"slice arg takes whole array", `{"jsonrpc":"2.0","id":2,"method":"arith_sum","params":[1,2,3,4]}`, `10`},
		{"no params", `{"jsonrpc":"2.0","id":3,"method":"system_chain","params":[]}`, `"Midnight Devnet"`},
		{"params omitted", `{"jsonrpc":"2.0","id":4,"method":"system_name"}`, `"mock-node"`},
		{"health", `{"jsonrpc":"2.0","id":5,"method":"system_health","params":[]}`, `{"peers":0,"isSyncing":false,"shouldHavePeers":true}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, out := post(t, ts.URL, tc.body)
			require.NotNil(t, out)
			require.Nil(t, out.Error)
			assert.JSONEq(t, tc.result, string(out.Result))
		})
	}
}

func TestServerEchoesID(t *testing.T) {
	_, ts := newTestNode(t)
	_, out := post(t, ts.URL, `{"jsonrpc":"2.0","id":"abc","method":"system_chain","params":[]}`)
	require.NotNil(t, out)
	assert.Equal(t, `"abc"`, string(out.ID))
	assert.Equal(t, message.Version, out.JSONRPC)
}

func TestServerErrors(t *testing.T) {
	_, ts := newTestNode(t)

	cases := []struct {
		name string
		body string
		code int
		msg  string
	}{
		{"method not found", `{"jsonrpc":"2.0","id":1,"method":"compact_generateViewingKey","params":[]}`, protocol.CodeMethodNotFound, "Method not found"},
		{"handler error", `{"jsonrpc":"2.0","id":1,"method":"arith_divide","params":[{"A":1,"B":0}]}`, protocol.CodeServerError, "divide by zero"},
		{"invalid params", `{"jsonrpc":"2.0","id":1,"method":"arith_add","params":["nope"]}`, protocol.CodeInvalidParams, ""},
		{"parse error", `{not json`, protocol.CodeParseError, "Parse error"},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, protocol.CodeInvalidRequest, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := post(t, ts.URL, tc.body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			require.NotNil(t, out)
			require.NotNil(t, out.Error)
			assert.Equal(t, tc.code, out.Error.Code)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, out.Error.Message)
			}
			assert.False(t, out.HasResult())
		})
	}
}

func TestServerRPCMethods(t *testing.T) {
	_, ts := newTestNode(t)
	_, out := post(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"rpc_methods","params":[]}`)
	require.NotNil(t, out)

	var list struct {
		Methods []string `json:"methods"`
	}
	require.NoError(t, json.Unmarshal(out.Result, &list))
	assert.Contains(t, list.Methods, "system_chain")
	assert.Contains(t, list.Methods, "rpc_methods")
}

func TestServerRejectsGet(t *testing.T) {
	_, ts := newTestNode(t)
	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerUnavailable(t *testing.T) {
	svr, ts := newTestNode(t)
	svr.SetAvailable(false)

	resp, out := post(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"system_chain","params":[]}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Nil(t, out)

	svr.SetAvailable(true)
	resp, out = post(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"system_chain","params":[]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, out)
}

func TestServerRateLimit(t *testing.T) {
	_, ts := newTestNode(t, middleware.RateLimitMiddleware(0.001, 1))

	_, out := post(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"system_chain","params":[]}`)
	require.NotNil(t, out)
	assert.Nil(t, out.Error)

	_, out = post(t, ts.URL, `{"jsonrpc":"2.0","id":2,"method":"system_chain","params":[]}`)
	require.NotNil(t, out)
	require.NotNil(t, out.Error)
	assert.Equal(t, protocol.CodeRateLimited, out.Error.Code)
}

// memRegistry 内存实现的 Registry，不依赖 etcd
type memRegistry struct {
	mu        sync.Mutex
	endpoints map[string][]registry.Endpoint
}

func newMemRegistry() *memRegistry {
	return &memRegistry{endpoints: make(map[string][]registry.Endpoint)}
}

func (m *memRegistry) Register(ctx context.Context, network string, ep registry.Endpoint, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[network] = append(m.endpoints[network], ep)
	return nil
}

func (m *memRegistry) Deregister(ctx context.Context, network, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps := m.endpoints[network]
	for i, ep := range eps {
		if ep.URL == url {
			m.endpoints[network] = append(eps[:i], eps[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memRegistry) Discover(ctx context.Context, network string) ([]registry.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]registry.Endpoint(nil), m.endpoints[network]...), nil
}

func TestServeRegistersAndShutdownDeregisters(t *testing.T) {
	reg := newMemRegistry()
	svr := NewServer(WithLogger(zaptest.NewLogger(t)), WithNetwork("devnet", 1))
	require.NoError(t, svr.Register("system", NewSystem("Midnight Devnet", "mock-node", "0.1.0")))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + listener.Addr().String()

	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(listener, url, reg) }()

	require.Eventually(t, func() bool {
		eps, _ := reg.Discover(context.Background(), "devnet")
		return len(eps) == 1
	}, time.Second, 10*time.Millisecond)

	eps, _ := reg.Discover(context.Background(), "devnet")
	assert.Equal(t, registry.Endpoint{URL: url, Priority: 1}, eps[0])

	_, out := post(t, url, `{"jsonrpc":"2.0","id":1,"method":"system_chain","params":[]}`)
	require.NotNil(t, out)
	assert.JSONEq(t, `"Midnight Devnet"`, string(out.Result))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svr.Shutdown(ctx))
	require.NoError(t, <-done)

	eps, _ = reg.Discover(context.Background(), "devnet")
	assert.Empty(t, eps)
}

func TestDecodeParams(t *testing.T) {
	svr := NewServer()
	var args Args
	require.NoError(t, decodeParams(svr.codec, json.RawMessage(`{"A":4,"B":5}`), reflectTypeOf(args), &args))
	assert.Equal(t, Args{A: 4, B: 5}, args, "by-name params")

	var s string
	require.NoError(t, decodeParams(svr.codec, json.RawMessage(`["x","y"]`), reflectTypeOf(s), &s))
	assert.Equal(t, "x", s)
}

func reflectTypeOf(v any) reflect.Type { return reflect.TypeOf(v) }

func TestHandlerRebuiltWhileServing(t *testing.T) {
	svr, ts := newTestNode(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			svr.Handler()
		}
	}()
	for i := 0; i < 20; i++ {
		_, out := post(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"system_chain","params":[]}`)
		require.NotNil(t, out)
		assert.JSONEq(t, `"Midnight Devnet"`, string(out.Result))
	}
	wg.Wait()
}
