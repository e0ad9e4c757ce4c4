package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tokensend/internal/jsonrpc"
)

// Client sends JSON-RPC calls to a single blockchain endpoint
type Client struct {
	name   string
	rpcURL string
	wsURL  string

	httpClient *http.Client
	limiter    *rate.Limiter
	status     Status
	nextID     atomic.Int64
	logger     zerolog.Logger

	ws   *wsClient
	wsMu sync.Mutex
}

// New creates a new Client
func New(cfg Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	c := &Client{
		name:   cfg.Name,
		rpcURL: cfg.RPCURL,
		wsURL:  cfg.WSURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		logger: cfg.Logger.With().Str("endpoint", cfg.Name).Logger(),
	}

	if cfg.RateLimit > 0 {
		burst := max(1, int(cfg.RateLimit))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return c
}

// Name returns the endpoint name
func (c *Client) Name() string {
	return c.name
}

// Status returns the probe status of the endpoint
func (c *Client) Status() *Status {
	return &c.status
}

// HasRPC returns true if HTTP RPC URL is configured
func (c *Client) HasRPC() bool {
	return c.rpcURL != ""
}

// HasWS returns true if WebSocket URL is configured
func (c *Client) HasWS() bool {
	return c.wsURL != ""
}

// Call invokes method with params and returns the raw result.
// A JSON-RPC error reply is returned as *jsonrpc.Error; everything else that
// prevents getting a reply is a *TransportError.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := jsonrpc.NewRequest(method, params, jsonrpc.NewIDInt(c.nextID.Add(1)))
	if err != nil {
		return nil, err
	}

	var resp *jsonrpc.Response
	switch {
	case c.HasRPC():
		resp, err = c.executeHTTP(ctx, req)
	case c.HasWS():
		resp, err = c.executeWS(ctx, req)
	default:
		return nil, &TransportError{Endpoint: c.name, Err: ErrNoEndpoint}
	}
	if err != nil {
		return nil, err
	}

	c.status.requestCount.Add(1)

	if resp.HasError() {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (c *Client) executeHTTP(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportErr("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportErr("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.transportErr("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	rpcResp, err := jsonrpc.ParseResponse(body)
	if err != nil {
		return nil, c.transportErr("failed to parse response: %w", err)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Int("bytes", len(body)).
		Msg("http call completed")

	return rpcResp, nil
}

func (c *Client) executeWS(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	ws, err := c.wsConn(ctx)
	if err != nil {
		return nil, c.transportErr("%w", err)
	}

	resp, err := ws.send(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, c.transportErr("%w", err)
	}
	return resp, nil
}

// wsConn returns the live WebSocket connection, dialing a new one if the
// previous connection was lost
func (c *Client) wsConn(ctx context.Context) (*wsClient, error) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws != nil && c.ws.connected() {
		return c.ws, nil
	}

	ws, err := dialWS(ctx, c.wsURL, wsReadTimeout, wsPingInterval, c.logger)
	if err != nil {
		return nil, err
	}
	c.ws = ws
	return ws, nil
}

func (c *Client) transportErr(format string, args ...interface{}) error {
	return &TransportError{Endpoint: c.name, Err: fmt.Errorf(format, args...)}
}

// Close closes all connections
func (c *Client) Close() {
	c.wsMu.Lock()
	if c.ws != nil {
		c.ws.close()
		c.ws = nil
	}
	c.wsMu.Unlock()
	c.httpClient.CloseIdleConnections()
}
