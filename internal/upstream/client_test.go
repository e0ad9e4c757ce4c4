package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokensend/internal/config"
	"tokensend/internal/jsonrpc"
)

// rpcHandler answers JSON-RPC requests using results keyed by method
func rpcHandler(t *testing.T, results map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req jsonrpc.Request
		require.NoError(t, json.Unmarshal(body, &req))

		w.Header().Set("Content-Type", "application/json")
		result, ok := results[req.Method]
		if !ok {
			resp := jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "method not found"))
			data, _ := resp.Bytes()
			w.Write(data)
			return
		}
		data, _ := jsonrpc.NewResponseRaw(req.ID, json.RawMessage(result)).Bytes()
		w.Write(data)
	}
}

func TestClient_CallHTTP(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]string{"eth_chainId": `"0x1"`}))
	defer srv.Close()

	c := New(Config{Name: "test", RPCURL: srv.URL, RequestTimeout: time.Second, Logger: zerolog.Nop()})
	defer c.Close()

	result, err := c.Call(context.Background(), "eth_chainId", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(result))
	assert.Equal(t, uint64(1), c.Status().RequestCount())
}

func TestClient_RPCErrorIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, nil))
	defer srv.Close()

	c := New(Config{Name: "test", RPCURL: srv.URL, Logger: zerolog.Nop()})

	_, err := c.Call(context.Background(), "eth_unknown", []string{})
	require.Error(t, err)

	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.CodeMethodNotFound, rpcErr.Code)
	assert.False(t, IsTransportError(err))
}

func TestClient_HTTPStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{Name: "flaky", RPCURL: srv.URL, Logger: zerolog.Nop()})

	_, err := c.Call(context.Background(), "eth_chainId", nil)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.Contains(t, err.Error(), "flaky")
	assert.Contains(t, err.Error(), "503")
}

func TestClient_NoEndpoint(t *testing.T) {
	c := New(Config{Name: "empty", Logger: zerolog.Nop()})

	_, err := c.Call(context.Background(), "eth_chainId", nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)
	assert.True(t, IsTransportError(err))
}

func TestClient_RateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rpcHandler(t, map[string]string{"eth_blockNumber": `"0x10"`})(w, r)
	}))
	defer srv.Close()

	c := New(Config{Name: "limited", RPCURL: srv.URL, RateLimit: 1, Logger: zerolog.Nop()})

	_, err := c.Call(context.Background(), "eth_blockNumber", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Call(ctx, "eth_blockNumber", nil)
	require.Error(t, err)
	assert.False(t, IsTransportError(err))
	assert.Equal(t, int32(1), calls.Load(), "second call must not reach the endpoint")
}

func TestClient_CallWS(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req jsonrpc.Request
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			// unrelated notification first, then the reply
			conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{}}`))
			resp, _ := jsonrpc.NewResponseRaw(req.ID, json.RawMessage(`"0x2a"`)).Bytes()
			conn.WriteMessage(websocket.TextMessage, resp)
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(Config{Name: "ws", WSURL: wsURL, Logger: zerolog.Nop()})
	defer c.Close()

	for i := 0; i < 3; i++ {
		result, err := c.Call(context.Background(), "eth_blockNumber", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `"0x2a"`, string(result))
	}
}

func TestWSClient_PingsKeepIdleConnectionOpen(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// the default ping handler answers pongs while reading
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req jsonrpc.Request
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			resp, _ := jsonrpc.NewResponseRaw(req.ID, json.RawMessage(`"0x1"`)).Bytes()
			conn.WriteMessage(websocket.TextMessage, resp)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := dialWS(context.Background(), url, 100*time.Millisecond, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer ws.close()

	// idle for several read timeouts
	time.Sleep(400 * time.Millisecond)
	require.True(t, ws.connected())

	req, err := jsonrpc.NewRequest("eth_chainId", nil, jsonrpc.NewIDInt(1))
	require.NoError(t, err)
	resp, err := ws.send(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(resp.Result))
}

func TestWSClient_IdleWithoutPingsTimesOut(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := dialWS(context.Background(), url, 50*time.Millisecond, 0, zerolog.Nop())
	require.NoError(t, err)
	defer ws.close()

	require.Eventually(t, func() bool { return !ws.connected() }, time.Second, 5*time.Millisecond)
}

func TestClient_WSDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := New(Config{Name: "ws", WSURL: "ws" + strings.TrimPrefix(srv.URL, "http"), Logger: zerolog.Nop()})

	_, err := c.Call(context.Background(), "eth_blockNumber", nil)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
}

func TestSet_GetByURL(t *testing.T) {
	cfg := &config.Config{
		Endpoints: []config.EndpointConfig{
			{Name: "a", RPCURL: "http://a.example"},
			{Name: "b", WSURL: "ws://b.example"},
		},
		RequestTimeout: 1000,
	}
	s := NewSet(cfg, zerolog.Nop())
	defer s.Close()

	c, ok := s.Get("http://a.example")
	require.True(t, ok)
	assert.Equal(t, "a", c.Name())

	c, ok = s.Get("ws://b.example")
	require.True(t, ok)
	assert.Equal(t, "b", c.Name())
	assert.True(t, c.HasWS())
	assert.False(t, c.HasRPC())

	_, ok = s.Get("http://missing")
	assert.False(t, ok)
	assert.Len(t, s.All(), 2)
}

func TestStatus_UpdateBlock(t *testing.T) {
	var s Status
	assert.True(t, s.LastProbeAt().IsZero())
	assert.True(t, s.UpdateBlock(10))
	assert.False(t, s.UpdateBlock(9))
	assert.False(t, s.UpdateBlock(10))
	assert.Equal(t, uint64(10), s.CurrentBlock())
	assert.False(t, s.LastProbeAt().IsZero())
}
