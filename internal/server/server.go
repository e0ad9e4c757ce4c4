package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tokensend/internal/batcher"
	"tokensend/internal/cache"
	"tokensend/internal/config"
	"tokensend/internal/health"
	"tokensend/internal/metrics"
	"tokensend/internal/monitor"
	"tokensend/internal/perf"
	"tokensend/internal/pool"
	"tokensend/internal/transfer"
	"tokensend/internal/upstream"
)

const cacheScope = "rpc"

// Server owns one instance of every component and the background loops
// that keep them observed
type Server struct {
	cfg       *config.Config
	layer     *perf.Layer
	upstreams *upstream.Set
	batcher   *batcher.Batcher[json.RawMessage]
	transfer  *transfer.Service
	checker   *health.Checker
	registry  *prometheus.Registry
	logger    zerolog.Logger

	metricsServer *http.Server
	metricsAddr   net.Addr
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates a Server from cfg. Nothing runs in the background until Start.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	rpcCache, err := cache.NewMemoryCache[any](cfg.CacheSize, cfg.GetCacheTTLDuration())
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	logger.Info().
		Int("size", cfg.CacheSize).
		Int("ttl", cfg.CacheTTL).
		Msg("cache enabled")

	connPool, err := pool.New(cfg.EndpointURLs(), cfg.MaxConnections, logger, pool.WithFailureThreshold(cfg.FailureThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	layer := perf.NewLayer(rpcCache, connPool, monitor.New(cfg.MaxResponseTimeHistory), logger)
	upstreams := upstream.NewSet(cfg, logger)
	b := batcher.New[json.RawMessage](cfg.BatchSize, cfg.GetBatchTimeoutDuration(), logger)

	resolve := func(endpoint string) (transfer.Caller, bool) {
		c, ok := upstreams.Get(endpoint)
		if !ok {
			return nil, false
		}
		return c, true
	}
	svc := transfer.NewService(layer, resolve, cache.NewPolicy(nil), b, transfer.Config{
		RetryMaxAttempts:     cfg.RetryMaxAttempts,
		RetryInitialInterval: cfg.GetRetryInitialIntervalDuration(),
		RequestTimeout:       cfg.GetRequestTimeoutDuration(),
		CacheScope:           cacheScope,
	}, logger)

	endpoints := make([]health.Endpoint, 0, len(cfg.Endpoints))
	for _, c := range upstreams.All() {
		endpoints = append(endpoints, c)
	}
	checker := health.NewChecker(layer, health.DefaultRules(cfg.Alerts), endpoints,
		cfg.GetHealthCheckIntervalDuration(), logger, health.NewLogNotifier(logger))

	registry, err := metrics.NewRegistry(metrics.NewCollector(layer, b.Stats))
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return &Server{
		cfg:       cfg,
		layer:     layer,
		upstreams: upstreams,
		batcher:   b,
		transfer:  svc,
		checker:   checker,
		registry:  registry,
		logger:    logger.With().Str("component", "server").Logger(),
	}, nil
}

// Start launches the cache janitor, the health checker and, when configured,
// the metrics HTTP server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.cfg.IsMetricsEnabled() {
		ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.MetricsAddr, err)
		}
		s.metricsAddr = ln.Addr()
		s.metricsServer = &http.Server{
			Handler:      s.Handler(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info().
				Str("addr", ln.Addr().String()).
				Msg("starting metrics server")
			if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runJanitor(ctx, s.cfg.GetCleanupIntervalDuration())
	}()
	go func() {
		defer s.wg.Done()
		_ = s.checker.Run(ctx)
	}()

	for _, c := range s.upstreams.All() {
		s.logger.Info().
			Str("endpoint", c.Name()).
			Bool("rpc", c.HasRPC()).
			Bool("ws", c.HasWS()).
			Msg("endpoint available")
	}

	return nil
}

// runJanitor sweeps expired cache entries every interval
func (s *Server) runJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.layer.Cache().RemoveExpired(); removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("expired cache entries removed")
			}
		}
	}
}

// Stop gracefully stops the server. Pending batched calls are flushed before
// the upstream clients are closed.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	var httpErr error
	if s.metricsServer != nil {
		httpErr = s.metricsServer.Shutdown(ctx)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	batchErr := s.batcher.Close(ctx)
	s.upstreams.Close()

	if httpErr != nil {
		return fmt.Errorf("metrics server shutdown error: %w", httpErr)
	}
	if batchErr != nil {
		return fmt.Errorf("batcher shutdown error: %w", batchErr)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}

// Handler returns the HTTP handler serving /metrics and /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(s.registry))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

type healthResponse struct {
	Status string        `json:"status"`
	Firing []string      `json:"firing"`
	Stats  perf.Snapshot `json:"stats"`
}

// handleHealth reports 503 while no pool connection is usable
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.layer.Snapshot()
	resp := healthResponse{
		Status: "ok",
		Firing: s.checker.Firing(),
		Stats:  snapshot,
	}
	code := http.StatusOK
	if snapshot.Pool.Available+snapshot.Pool.Busy == 0 {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	} else if len(resp.Firing) > 0 {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write health response")
	}
}

// MetricsAddr returns the bound metrics address, nil before Start or when
// metrics are disabled
func (s *Server) MetricsAddr() net.Addr {
	return s.metricsAddr
}

// Transfer returns the transfer service
func (s *Server) Transfer() *transfer.Service {
	return s.transfer
}

// Layer returns the performance layer
func (s *Server) Layer() *perf.Layer {
	return s.layer
}

// Checker returns the health checker
func (s *Server) Checker() *health.Checker {
	return s.checker
}

// BatchStats returns the batcher counters
func (s *Server) BatchStats() batcher.Stats {
	return s.batcher.Stats()
}
