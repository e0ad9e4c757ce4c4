package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokensend/internal/batcher"
	"tokensend/internal/cache"
	"tokensend/internal/jsonrpc"
	"tokensend/internal/monitor"
	"tokensend/internal/perf"
	"tokensend/internal/pool"
	"tokensend/internal/upstream"
)

const (
	testAddress = "0x00000000000000000000000000000000000000aa"
	testHash    = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

// fakeNode is a scripted JSON-RPC endpoint
type fakeNode struct {
	mu      sync.Mutex
	calls   map[string]int
	handler func(method string, params json.RawMessage, call int) (string, *jsonrpc.Error, int)
}

func newFakeNode(t *testing.T, handler func(method string, params json.RawMessage, call int) (string, *jsonrpc.Error, int)) (*fakeNode, *httptest.Server) {
	n := &fakeNode{calls: make(map[string]int), handler: handler}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	call := n.calls[req.Method]
	n.mu.Unlock()

	result, rpcErr, status := n.handler(req.Method, req.Params, call)
	if status != 0 && status != http.StatusOK {
		http.Error(w, "unavailable", status)
		return
	}

	var resp *jsonrpc.Response
	if rpcErr != nil {
		resp = jsonrpc.NewErrorResponse(req.ID, rpcErr)
	} else {
		resp = jsonrpc.NewResponseRaw(req.ID, json.RawMessage(result))
	}
	data, _ := resp.Bytes()
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

type testEnv struct {
	svc   *Service
	layer *perf.Layer
	pool  *pool.Pool
}

func newTestEnv(t *testing.T, endpoints []string, maxConns int, cfg Config) *testEnv {
	t.Helper()

	c, err := cache.NewMemoryCache[any](100, time.Minute)
	require.NoError(t, err)
	p, err := pool.New(endpoints, maxConns, zerolog.Nop(), pool.WithFailureThreshold(3))
	require.NoError(t, err)
	layer := perf.NewLayer(c, p, monitor.New(100), zerolog.Nop())

	clients := make(map[string]*upstream.Client)
	for _, e := range endpoints {
		clients[e] = upstream.New(upstream.Config{Name: e, RPCURL: e, RequestTimeout: time.Second, Logger: zerolog.Nop()})
	}
	resolve := func(endpoint string) (Caller, bool) {
		c, ok := clients[endpoint]
		return c, ok
	}

	b := batcher.New[json.RawMessage](3, 20*time.Millisecond, zerolog.Nop())
	t.Cleanup(func() { b.Close(context.Background()) })

	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = time.Millisecond
	}
	if cfg.CacheScope == "" {
		cfg.CacheScope = "test"
	}
	svc := NewService(layer, resolve, cache.NewPolicy(nil), b, cfg, zerolog.Nop())
	return &testEnv{svc: svc, layer: layer, pool: p}
}

func TestService_ChainIDIsCached(t *testing.T) {
	node, srv := newFakeNode(t, func(method string, _ json.RawMessage, _ int) (string, *jsonrpc.Error, int) {
		return `"0x89"`, nil, 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := env.svc.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(137), id)
	}

	assert.Equal(t, 1, node.count("eth_chainId"))
	m := env.layer.Monitor().Metrics()
	assert.Equal(t, uint64(2), m.Cache.Hits)
	assert.Equal(t, uint64(1), m.Cache.Misses)
	assert.Equal(t, 1, env.pool.Stats().Available, "connection released after call")
}

func TestService_BalanceLatestNotCached(t *testing.T) {
	node, srv := newFakeNode(t, func(method string, params json.RawMessage, _ int) (string, *jsonrpc.Error, int) {
		assert.JSONEq(t, `["`+testAddress+`","latest"]`, string(params))
		return `"0xde0b6b3a7640000"`, nil, 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{})

	for i := 0; i < 2; i++ {
		bal, err := env.svc.Balance(context.Background(), testAddress, "")
		require.NoError(t, err)
		assert.Equal(t, "1000000000000000000", bal.String())
	}
	assert.Equal(t, 2, node.count("eth_getBalance"))
}

func TestService_InvalidArguments(t *testing.T) {
	_, srv := newFakeNode(t, func(string, json.RawMessage, int) (string, *jsonrpc.Error, int) {
		t.Error("no call expected")
		return `null`, nil, 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{})
	ctx := context.Background()

	_, err := env.svc.Balance(ctx, "0x123", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = env.svc.Nonce(ctx, "not-an-address", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = env.svc.SendRawTransaction(ctx, "f86c")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, _, err = env.svc.Receipt(ctx, "0xabc")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestService_SendRetriesTransportFailures(t *testing.T) {
	node, srv := newFakeNode(t, func(method string, _ json.RawMessage, call int) (string, *jsonrpc.Error, int) {
		if call < 3 {
			return "", nil, http.StatusBadGateway
		}
		return `"` + testHash + `"`, nil, 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{RetryMaxAttempts: 3})

	hash, err := env.svc.SendRawTransaction(context.Background(), "0xf86c")
	require.NoError(t, err)
	assert.Equal(t, testHash, hash)
	assert.Equal(t, 3, node.count("eth_sendRawTransaction"))

	m := env.layer.Monitor().Metrics()
	assert.Equal(t, uint64(2), m.Requests.Failed)
	assert.Equal(t, uint64(1), m.Requests.Successful)
}

func TestService_SendStopsOnNonRetryableError(t *testing.T) {
	node, srv := newFakeNode(t, func(string, json.RawMessage, int) (string, *jsonrpc.Error, int) {
		return "", jsonrpc.NewError(-32000, "nonce too low"), 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{RetryMaxAttempts: 5})

	_, err := env.svc.SendRawTransaction(context.Background(), "0xf86c")
	require.Error(t, err)

	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "nonce too low", rpcErr.Message)
	assert.Equal(t, 1, node.count("eth_sendRawTransaction"))
	assert.Equal(t, 0, env.pool.Stats().Unhealthy, "RPC errors do not count against the endpoint")
}

func TestService_TransportFailuresMarkEndpointUnhealthy(t *testing.T) {
	_, bad := newFakeNode(t, func(string, json.RawMessage, int) (string, *jsonrpc.Error, int) {
		return "", nil, http.StatusInternalServerError
	})
	_, good := newFakeNode(t, func(string, json.RawMessage, int) (string, *jsonrpc.Error, int) {
		return `"0x10"`, nil, 0
	})
	env := newTestEnv(t, []string{bad.URL, good.URL}, 2, Config{RetryMaxAttempts: 4})
	ctx := context.Background()

	// FIFO checkout alternates endpoints, so the bad one fails three times within four calls
	for i := 0; i < 4; i++ {
		n, err := env.svc.BlockNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(16), n)
	}

	stats := env.pool.Stats()
	assert.Equal(t, 1, stats.Unhealthy)
	assert.Equal(t, []string{good.URL}, env.pool.HealthyEndpoints())
}

func TestService_NoConnectionsLeft(t *testing.T) {
	_, srv := newFakeNode(t, func(string, json.RawMessage, int) (string, *jsonrpc.Error, int) {
		return "", nil, http.StatusServiceUnavailable
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{RetryMaxAttempts: 5})

	_, err := env.svc.BlockNumber(context.Background())
	assert.ErrorIs(t, err, ErrNoConnections)
	assert.Equal(t, 1, env.pool.Stats().Unhealthy)
}

func TestService_AcquireWaitsForRelease(t *testing.T) {
	release := make(chan struct{})
	var inFlight atomic.Int32
	_, srv := newFakeNode(t, func(string, json.RawMessage, int) (string, *jsonrpc.Error, int) {
		if inFlight.Add(1) == 1 {
			<-release
		}
		return `"0x1"`, nil, 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{})
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := env.svc.BlockNumber(ctx)
		first <- err
	}()
	require.Eventually(t, func() bool { return env.pool.Stats().Busy == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := env.svc.BlockNumber(ctx)
		second <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)
}

func TestService_RequestTimeout(t *testing.T) {
	_, srv := newFakeNode(t, func(string, json.RawMessage, int) (string, *jsonrpc.Error, int) {
		time.Sleep(200 * time.Millisecond)
		return `"0x1"`, nil, 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{RequestTimeout: 20 * time.Millisecond})

	_, err := env.svc.BlockNumber(context.Background())
	assert.ErrorIs(t, err, perf.ErrTimeout)
	assert.Equal(t, uint64(1), env.layer.Monitor().Metrics().Requests.Failed)
}

func TestService_ReceiptPendingIsNotCached(t *testing.T) {
	_, srv := newFakeNode(t, func(method string, _ json.RawMessage, call int) (string, *jsonrpc.Error, int) {
		if call == 1 {
			return `null`, nil, 0
		}
		return `{"transactionHash":"` + testHash + `","blockNumber":"0x5","status":"0x1"}`, nil, 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{ReceiptInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	receipt, err := env.svc.WaitForReceipt(ctx, testHash)
	require.NoError(t, err)
	assert.Equal(t, "0x5", receipt.BlockNumber)

	// mined receipts are served from cache
	_, ok, err := env.svc.Receipt(ctx, testHash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), env.layer.Monitor().Metrics().Cache.Hits)
}

func TestService_WaitForReceiptFailedTx(t *testing.T) {
	_, srv := newFakeNode(t, func(string, json.RawMessage, int) (string, *jsonrpc.Error, int) {
		return `{"transactionHash":"` + testHash + `","blockNumber":"0x7","status":"0x0"}`, nil, 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{})

	receipt, err := env.svc.WaitForReceipt(context.Background(), testHash)
	assert.ErrorIs(t, err, ErrTransactionFailed)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Succeeded())
}

func TestService_ProbeBlockNumbers(t *testing.T) {
	_, srv := newFakeNode(t, func(string, json.RawMessage, int) (string, *jsonrpc.Error, int) {
		return `"0x64"`, nil, 0
	})
	env := newTestEnv(t, []string{srv.URL}, 1, Config{})

	results := env.svc.ProbeBlockNumbers(context.Background(), 5)
	require.Len(t, results, 5)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, uint64(100), r.Value)
	}
	assert.Nil(t, env.svc.ProbeBlockNumbers(context.Background(), 0))
}
