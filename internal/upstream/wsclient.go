package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tokensend/internal/jsonrpc"
)

var errConnectionClosed = errors.New("websocket connection closed")

const (
	// wsReadTimeout bounds how long a connection may go without any frame
	wsReadTimeout = 60 * time.Second
	// wsPingInterval keeps idle connections inside wsReadTimeout
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// wsClient multiplexes JSON-RPC request/response pairs over one WebSocket
// connection. A read failure closes it for good; the owning Client dials a
// new one on the next call.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	pending   map[int64]chan *jsonrpc.Response
	pendingMu sync.Mutex
	reqID     atomic.Int64
	closed    atomic.Bool
	done      chan struct{}

	readTimeout  time.Duration
	pingInterval time.Duration
	logger       zerolog.Logger
}

func dialWS(ctx context.Context, url string, readTimeout, pingInterval time.Duration, logger zerolog.Logger) (*wsClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	c := &wsClient{
		conn:         conn,
		pending:      make(map[int64]chan *jsonrpc.Response),
		done:         make(chan struct{}),
		readTimeout:  readTimeout,
		pingInterval: pingInterval,
		logger:       logger,
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go c.readLoop()
	if pingInterval > 0 {
		go c.pingLoop()
	}

	logger.Info().Msg("WebSocket connected")
	return c, nil
}

func (c *wsClient) connected() bool {
	return !c.closed.Load()
}

// send writes req with a connection-local id and waits for the matching reply
func (c *wsClient) send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if c.closed.Load() {
		return nil, errConnectionClosed
	}

	reqID := c.reqID.Add(1)
	respChan := make(chan *jsonrpc.Response, 1)

	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	wsReq := *req
	wsReq.ID = jsonrpc.NewIDInt(reqID)

	reqBytes, err := wsReq.Bytes()
	if err != nil {
		c.forget(reqID)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	writeErr := c.conn.WriteMessage(websocket.TextMessage, reqBytes)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.forget(reqID)
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, errConnectionClosed
		}
		resp.ID = req.ID
		return resp, nil
	case <-ctx.Done():
		c.forget(reqID)
		return nil, ctx.Err()
	}
}

func (c *wsClient) forget(reqID int64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

func (c *wsClient) readLoop() {
	defer c.close()

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn().Err(err).Msg("WebSocket connection lost")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *wsClient) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping write failed")
				return
			}
		}
	}
}

func (c *wsClient) dispatch(data []byte) {
	resp, err := jsonrpc.ParseResponse(data)
	if err != nil {
		c.logger.Warn().Err(err).Int("len", len(data)).Msg("ws message parse error")
		return
	}

	reqID, ok := resp.ID.Int64()
	if !ok {
		// subscriptions are never opened, so anything without a numeric id is noise
		c.logger.Debug().RawJSON("message", data).Msg("ignoring ws message without id")
		return
	}

	c.pendingMu.Lock()
	ch, exists := c.pending[reqID]
	if exists {
		delete(c.pending, reqID)
	}
	c.pendingMu.Unlock()

	if exists {
		ch <- resp
	}
}

// close shuts the connection and fails every waiting request
func (c *wsClient) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.conn.Close()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- nil
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.logger.Info().Msg("WebSocket disconnected")
}
