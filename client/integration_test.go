package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"resilient-rpc/client"
	"resilient-rpc/registry"
	"resilient-rpc/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ---- 测试用的节点 ----

type Account struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type Midnight struct{}

func (m *Midnight) GetAccount(address *string, reply *Account) error {
	*reply = Account{Address: *address, Balance: "1000"}
	return nil
}

func startNode(t testing.TB, available bool) (*server.Server, string) {
	t.Helper()
	svr := server.NewServer(server.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, svr.Register("system", server.NewSystem("Midnight Devnet", "mock-node", "0.1.0")))
	require.NoError(t, svr.Register("midnight", &Midnight{}))
	svr.SetAvailable(available)

	ts := httptest.NewServer(svr.Handler())
	t.Cleanup(ts.Close)
	return svr, ts.URL
}

func newClient(t testing.TB, endpoints ...string) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Endpoints = endpoints
	cfg.MaxRetries = 2
	cfg.BaseRetryDelay = 10 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second

	c, err := client.New(cfg, client.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return c
}

// TestIntegrationFailover 端到端测试
// 链路: Client → Retry → Timeout → HTTPTransport → Server → Middleware → 反射调用
func TestIntegrationFailover(t *testing.T) {
	primary, primaryURL := startNode(t, false)
	_, backupURL := startNode(t, true)
	c := newClient(t, primaryURL, backupURL)

	var account Account
	res, err := c.Call(context.Background(), "midnight_getAccount", "mn_addr_test1")
	require.NoError(t, err)
	require.NoError(t, res.Decode(&account))
	assert.Equal(t, Account{Address: "mn_addr_test1", Balance: "1000"}, account)

	state := c.State()
	assert.True(t, state.Connected)
	assert.Equal(t, backupURL, state.Endpoint)

	// 主节点恢复后仍然粘在备份节点上
	primary.SetAvailable(true)
	_, err = c.Call(context.Background(), "system_chain")
	require.NoError(t, err)
	assert.Equal(t, backupURL, c.State().Endpoint)
}

func TestIntegrationUnsupported(t *testing.T) {
	_, url := startNode(t, true)
	c := newClient(t, url)

	res, err := c.Call(context.Background(), "compact_generateViewingKey", "seed")
	require.NoError(t, err)
	assert.True(t, res.Unsupported)
	assert.ErrorIs(t, res.Decode(new(string)), client.ErrUnsupportedMethod)
}

// rawNode 直接返回固定的 body，不经过 server 包
func rawNode(t *testing.T, body string) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestIntegrationNonEnvelopeReply(t *testing.T) {
	for _, body := range []string{`42`, `[]`, `"ok"`} {
		t.Run(body, func(t *testing.T) {
			_, backupURL := startNode(t, true)
			c := newClient(t, rawNode(t, body), backupURL)

			res, err := c.Call(context.Background(), "system_chain")
			require.NoError(t, err)
			assert.True(t, res.Unsupported)

			state := c.State()
			assert.Equal(t, 0, state.ActiveEndpoint, "no failover")
			assert.False(t, state.Connected)
			assert.NoError(t, state.LastError)
		})
	}
}

func TestIntegrationNullResult(t *testing.T) {
	c := newClient(t, rawNode(t, `{"jsonrpc":"2.0","id":1,"result":null}`))

	res, err := c.Call(context.Background(), "system_chain")
	require.NoError(t, err)
	assert.False(t, res.Unsupported)
	assert.True(t, res.IsNull())
	assert.True(t, c.IsConnected())
}

func TestIntegrationHTMLReplyFailsOver(t *testing.T) {
	_, backupURL := startNode(t, true)
	c := newClient(t, rawNode(t, `<html>bad gateway</html>`), backupURL)

	res, err := c.Call(context.Background(), "system_chain")
	require.NoError(t, err)
	assert.JSONEq(t, `"Midnight Devnet"`, string(res.Raw))
	assert.Equal(t, backupURL, c.State().Endpoint)
}

// hangingNode 一直不回复，直到请求被取消
func hangingNode(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestIntegrationCallerDeadline(t *testing.T) {
	_, backupURL := startNode(t, true)
	c := newClient(t, hangingNode(t), backupURL)

	// 调用方的 deadline 比 RequestTimeout (2s) 短
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "system_chain")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, client.ErrUnavailable)

	state := c.State()
	assert.Equal(t, 0, state.ActiveEndpoint, "caller deadline is not an endpoint failure")
	assert.NoError(t, state.LastError)
}

func TestIntegrationAttemptTimeoutFailsOver(t *testing.T) {
	_, backupURL := startNode(t, true)
	cfg := client.DefaultConfig()
	cfg.Endpoints = []string{hangingNode(t), backupURL}
	cfg.BaseRetryDelay = time.Millisecond
	cfg.RequestTimeout = 50 * time.Millisecond
	c, err := client.New(cfg, client.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "system_chain")
	require.NoError(t, err)

	state := c.State()
	assert.Equal(t, backupURL, state.Endpoint)
	var te *client.TransportError
	require.ErrorAs(t, state.LastError, &te)
	assert.Equal(t, "timeout", te.Kind.String())
}

func TestIntegrationAllDown(t *testing.T) {
	_, a := startNode(t, false)
	_, b := startNode(t, false)
	c := newClient(t, a, b)

	_, err := c.Call(context.Background(), "system_chain")
	require.ErrorIs(t, err, client.ErrUnavailable)

	var te *client.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 503, te.StatusCode)
	assert.False(t, c.IsConnected())
	assert.Equal(t, a, c.State().Endpoint)
}

func TestIntegrationProbe(t *testing.T) {
	// 只注册 midnight 命名空间，system_* 都是 unsupported
	svr := server.NewServer()
	require.NoError(t, svr.Register("midnight", &Midnight{}))
	ts := httptest.NewServer(svr.Handler())
	t.Cleanup(ts.Close)

	c := newClient(t, ts.URL)
	res, err := c.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rpc_methods", res.Method)
	assert.Contains(t, string(res.Raw), "midnight_getAccount")
}

// TestIntegrationWithEtcd 节点注册到 etcd，客户端从 etcd 解析端点
func TestIntegrationWithEtcd(t *testing.T) {
	reg, err := registry.NewEtcdRegistry([]string{"localhost:2379"})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	network := "it-" + time.Now().Format("150405.000000")
	if _, err := reg.Discover(ctx, network); err != nil {
		t.Skipf("etcd not reachable on localhost:2379: %v", err)
	}

	_, down := startNode(t, false)
	_, up := startNode(t, true)
	require.NoError(t, reg.Register(ctx, network, registry.Endpoint{URL: up, Priority: 1}, 0))
	require.NoError(t, reg.Register(ctx, network, registry.Endpoint{URL: down, Priority: 0}, 0))
	t.Cleanup(func() {
		reg.Deregister(context.Background(), network, up)
		reg.Deregister(context.Background(), network, down)
	})

	eps, err := reg.Discover(ctx, network)
	require.NoError(t, err)
	c := newClient(t, registry.URLs(eps)...)
	assert.Equal(t, []string{down, up}, c.Endpoints())

	_, err = c.Call(ctx, "system_name")
	require.NoError(t, err)
	assert.Equal(t, up, c.State().Endpoint)
}
