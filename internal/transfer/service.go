package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"tokensend/internal/batcher"
	"tokensend/internal/cache"
	"tokensend/internal/jsonrpc"
	"tokensend/internal/perf"
	"tokensend/internal/pool"
	"tokensend/internal/upstream"
)

// Caller performs a single JSON-RPC call against one endpoint
type Caller interface {
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// Resolver returns the caller serving a pool endpoint
type Resolver func(endpoint string) (Caller, bool)

// Config holds the service tuning knobs
type Config struct {
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RequestTimeout       time.Duration
	AcquireInterval      time.Duration // pool polling period while every connection is busy
	ReceiptInterval      time.Duration // receipt polling period for WaitForReceipt
	CacheScope           string
}

const (
	defaultAcquireInterval = 10 * time.Millisecond
	defaultReceiptInterval = time.Second
)

// Service runs blockchain calls through the performance layer: every call
// borrows a pool connection, is timed by the monitor and, when the method
// allows it, served from the cache
type Service struct {
	layer   *perf.Layer
	resolve Resolver
	policy  *cache.Policy
	batcher *batcher.Batcher[json.RawMessage]
	cfg     Config
	logger  zerolog.Logger
}

// NewService creates a Service. policy may be nil to disable caching.
func NewService(layer *perf.Layer, resolve Resolver, policy *cache.Policy, b *batcher.Batcher[json.RawMessage], cfg Config, logger zerolog.Logger) *Service {
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 1
	}
	if cfg.AcquireInterval <= 0 {
		cfg.AcquireInterval = defaultAcquireInterval
	}
	if cfg.ReceiptInterval <= 0 {
		cfg.ReceiptInterval = defaultReceiptInterval
	}

	return &Service{
		layer:   layer,
		resolve: resolve,
		policy:  policy,
		batcher: b,
		cfg:     cfg,
		logger:  logger.With().Str("component", "transfer").Logger(),
	}
}

// Call runs method through the cache, monitor and pool with retries.
// JSON-RPC errors that no retry can fix are returned on first sight.
func (s *Service) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	opts := make([]perf.Option, 0, 2)
	if s.cfg.RequestTimeout > 0 {
		opts = append(opts, perf.WithTimeout(s.cfg.RequestTimeout))
	}
	var cacheKey string
	if s.policy.IsCacheable(method, rawParams) {
		cacheKey = cache.GenerateCacheKey(s.cfg.CacheScope, method, rawParams)
		opts = append(opts, perf.WithCacheKey(cacheKey))
	}

	attempt := 0
	operation := func() (json.RawMessage, error) {
		attempt++
		result, err := perf.Execute(ctx, s.layer, func(ctx context.Context) (json.RawMessage, error) {
			return s.callOnce(ctx, method, rawParams)
		}, opts...)
		if err != nil {
			return nil, classify(ctx, err)
		}
		return result, nil
	}

	result, err := backoff.RetryNotifyWithData(operation, s.newBackOff(ctx), func(err error, next time.Duration) {
		s.logger.Warn().
			Err(err).
			Str("method", method).
			Int("attempt", attempt).
			Int("maxAttempts", s.cfg.RetryMaxAttempts).
			Dur("retryIn", next).
			Msg("request failed, retrying")
	})
	if err != nil {
		if attempt > 1 {
			return nil, fmt.Errorf("%s failed after %d attempts: %w", method, attempt, err)
		}
		return nil, err
	}

	// a missing object (pending receipt, unknown tx) may appear later
	if cacheKey != "" && isNull(result) {
		s.layer.Cache().Delete(cacheKey)
	}

	return result, nil
}

// CallBatched queues the call on the shared batcher
func (s *Service) CallBatched(ctx context.Context, method string, params interface{}) <-chan batcher.Result[json.RawMessage] {
	return s.batcher.Add(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return s.Call(ctx, method, params)
	})
}

func (s *Service) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if s.cfg.RetryInitialInterval > 0 {
		exp.InitialInterval = s.cfg.RetryInitialInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.cfg.RetryMaxAttempts-1)), ctx)
}

// classify marks errors that retrying cannot fix as permanent
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}

	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) && !rpcErr.IsRetryable() {
		return backoff.Permanent(err)
	}
	if errors.Is(err, ErrNoConnections) || errors.Is(err, ErrInvalidArgument) {
		return backoff.Permanent(err)
	}
	return err
}

// callOnce borrows a connection and performs one call on its endpoint.
// Transport failures count against the connection; RPC errors do not.
func (s *Service) callOnce(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	p := s.layer.Pool()
	defer p.ReleaseConnection(conn)

	client, ok := s.resolve(conn.Endpoint())
	if !ok {
		p.MarkUnhealthy(conn)
		return nil, fmt.Errorf("%w: %s", ErrNoClient, conn.Endpoint())
	}

	var callParams interface{}
	if len(params) > 0 {
		callParams = params
	}

	result, err := client.Call(ctx, method, callParams)
	switch {
	case err == nil:
		p.RecordSuccess(conn)
	case upstream.IsTransportError(err) && ctx.Err() == nil:
		if p.RecordFailure(conn) {
			s.logger.Warn().
				Str("endpoint", conn.Endpoint()).
				Err(err).
				Msg("endpoint removed from rotation")
		}
	case !upstream.IsTransportError(err):
		p.RecordSuccess(conn)
	}

	return result, err
}

// acquire polls the pool until a connection frees up or ctx is done
func (s *Service) acquire(ctx context.Context) (*pool.Connection, error) {
	p := s.layer.Pool()
	if conn, ok := p.GetConnection(); ok {
		return conn, nil
	}

	ticker := time.NewTicker(s.cfg.AcquireInterval)
	defer ticker.Stop()

	for {
		stats := p.Stats()
		if stats.Available+stats.Busy == 0 {
			return nil, ErrNoConnections
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for connection: %w", ctx.Err())
		case <-ticker.C:
		}

		if conn, ok := p.GetConnection(); ok {
			return conn, nil
		}
	}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrInvalidArgument, err)
	}
	return data, nil
}

func isNull(result json.RawMessage) bool {
	return len(result) == 0 || string(result) == "null"
}
