package perf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tokensend/internal/cache"
	"tokensend/internal/monitor"
	"tokensend/internal/pool"
)

// ErrTimeout is returned when an operation exceeds its WithTimeout deadline
var ErrTimeout = errors.New("operation timed out")

// Layer composes the cache, connection pool and monitor that every remote
// operation goes through. It is built once and shared by handle.
type Layer struct {
	cache   *cache.MemoryCache[any]
	pool    *pool.Pool
	monitor *monitor.Monitor
	logger  zerolog.Logger
}

// Snapshot is the polled view consumed by health checks and metrics export
type Snapshot struct {
	Pool    pool.Stats      `json:"pool"`
	Cache   cache.Stats     `json:"cache"`
	Monitor monitor.Metrics `json:"monitor"`
}

// NewLayer creates a layer from already constructed components
func NewLayer(c *cache.MemoryCache[any], p *pool.Pool, m *monitor.Monitor, logger zerolog.Logger) *Layer {
	return &Layer{
		cache:   c,
		pool:    p,
		monitor: m,
		logger:  logger.With().Str("component", "perf").Logger(),
	}
}

// Cache returns the shared cache
func (l *Layer) Cache() *cache.MemoryCache[any] {
	return l.cache
}

// Pool returns the shared connection pool
func (l *Layer) Pool() *pool.Pool {
	return l.pool
}

// Monitor returns the shared performance monitor
func (l *Layer) Monitor() *monitor.Monitor {
	return l.monitor
}

// Snapshot collects pool, cache and monitor statistics.
// The cache does not count hits itself, so its hit rate comes from the monitor.
func (l *Layer) Snapshot() Snapshot {
	metrics := l.monitor.Metrics()
	cacheStats := l.cache.Stats()
	cacheStats.HitRate = metrics.Cache.HitRate

	return Snapshot{
		Pool:    l.pool.Stats(),
		Cache:   cacheStats,
		Monitor: metrics,
	}
}

// Option configures a single Execute call
type Option func(*execOptions)

type execOptions struct {
	cacheKey string
	ttl      time.Duration
	timeout  time.Duration
}

// WithCacheKey enables caching of the result under key
func WithCacheKey(key string) Option {
	return func(o *execOptions) {
		o.cacheKey = key
	}
}

// WithTTL overrides the cache's default TTL for the stored result
func WithTTL(ttl time.Duration) Option {
	return func(o *execOptions) {
		o.ttl = ttl
	}
}

// WithTimeout bounds the operation. When it expires the operation's context
// is cancelled and ErrTimeout is returned.
func WithTimeout(d time.Duration) Option {
	return func(o *execOptions) {
		o.timeout = d
	}
}

// Execute runs op through the layer. With a cache key, a live cached value is
// returned without calling op and without recording latency. Otherwise op is
// timed and recorded; successful results are cached, failures are returned
// unchanged.
func Execute[T any](ctx context.Context, l *Layer, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}

	caching := o.cacheKey != ""
	if caching {
		if cached, ok := l.cache.Get(o.cacheKey); ok {
			if v, ok := cached.(T); ok {
				l.monitor.RecordCacheHit()
				return v, nil
			}
			l.logger.Warn().
				Str("key", o.cacheKey).
				Str("type", fmt.Sprintf("%T", cached)).
				Msg("cached value has unexpected type")
		}
		l.monitor.RecordCacheMiss()
	}

	start := time.Now()
	result, err := call(ctx, op, o.timeout)
	latency := time.Since(start)

	if err != nil {
		l.monitor.RecordRequest(latency, false)
		return result, err
	}

	if caching {
		l.cache.SetWithTTL(o.cacheKey, result, o.ttl)
	}
	l.monitor.RecordRequest(latency, true)

	return result, nil
}

// call invokes op, racing it against timeout when one is set
func call[T any](ctx context.Context, op func(ctx context.Context) (T, error), timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value    T
		err      error
		panicked bool
		panicVal interface{}
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panicked: true, panicVal: r}
			}
		}()
		v, err := op(opCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		// a panic surfaces on the caller's goroutine, same as without a timeout
		if out.panicked {
			panic(out.panicVal)
		}
		return out.value, out.err
	case <-opCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
