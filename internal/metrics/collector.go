package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokensend/internal/batcher"
	"tokensend/internal/perf"
)

const namespace = "tokensend"

// Source provides the snapshot exported on every scrape
type Source interface {
	Snapshot() perf.Snapshot
}

// BatchStatsFunc returns batcher counters; nil when no batcher is exported
type BatchStatsFunc func() batcher.Stats

// Collector exports the performance layer as Prometheus metrics.
// Values are read from a fresh snapshot at scrape time.
type Collector struct {
	source     Source
	batchStats BatchStatsFunc

	requests       *prometheus.Desc
	responseTime   *prometheus.Desc
	cacheHits      *prometheus.Desc
	cacheMisses    *prometheus.Desc
	cacheHitRatio  *prometheus.Desc
	cacheEntries   *prometheus.Desc
	cacheCapacity  *prometheus.Desc
	cacheEvictions *prometheus.Desc
	cacheMemory    *prometheus.Desc
	poolConns      *prometheus.Desc
	poolRequests   *prometheus.Desc
	batchPending   *prometheus.Desc
	batchFlushes   *prometheus.Desc
	batchItems     *prometheus.Desc
}

// NewCollector creates a collector. batchStats may be nil.
func NewCollector(source Source, batchStats BatchStatsFunc) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		source:     source,
		batchStats: batchStats,

		requests:       desc("requests_total", "Remote operations executed, by outcome.", "outcome"),
		responseTime:   desc("response_time_seconds", "Response time statistics over the rolling window.", "stat"),
		cacheHits:      desc("cache_hits_total", "Cache hits recorded by the performance monitor."),
		cacheMisses:    desc("cache_misses_total", "Cache misses recorded by the performance monitor."),
		cacheHitRatio:  desc("cache_hit_ratio", "Cache hits divided by lookups."),
		cacheEntries:   desc("cache_entries", "Entries currently held in the cache."),
		cacheCapacity:  desc("cache_capacity", "Maximum number of cache entries."),
		cacheEvictions: desc("cache_evictions_total", "Entries evicted to make room for new ones."),
		cacheMemory:    desc("cache_memory_bytes", "Estimated memory held by cache entries."),
		poolConns:      desc("pool_connections", "Pool connections, by state.", "state"),
		poolRequests:   desc("pool_requests_total", "Connection checkouts across the pool."),
		batchPending:   desc("batcher_pending", "Operations waiting for the next batch flush."),
		batchFlushes:   desc("batcher_flushes_total", "Batch flushes, by trigger.", "trigger"),
		batchItems:     desc("batcher_items_total", "Operations flushed by the batcher."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.responseTime
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheHitRatio
	ch <- c.cacheEntries
	ch <- c.cacheCapacity
	ch <- c.cacheEvictions
	ch <- c.cacheMemory
	ch <- c.poolConns
	ch <- c.poolRequests
	if c.batchStats != nil {
		ch <- c.batchPending
		ch <- c.batchFlushes
		ch <- c.batchItems
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Snapshot()
	m := s.Monitor

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(m.Requests.Successful), "success")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(m.Requests.Failed), "failure")

	rt := m.ResponseTimeStats
	ch <- prometheus.MustNewConstMetric(c.responseTime, prometheus.GaugeValue, rt.Min.Seconds(), "min")
	ch <- prometheus.MustNewConstMetric(c.responseTime, prometheus.GaugeValue, rt.Max.Seconds(), "max")
	ch <- prometheus.MustNewConstMetric(c.responseTime, prometheus.GaugeValue, rt.Average.Seconds(), "avg")
	ch <- prometheus.MustNewConstMetric(c.responseTime, prometheus.GaugeValue, rt.P95.Seconds(), "p95")
	ch <- prometheus.MustNewConstMetric(c.responseTime, prometheus.GaugeValue, rt.P99.Seconds(), "p99")

	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(m.Cache.Hits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(m.Cache.Misses))
	ch <- prometheus.MustNewConstMetric(c.cacheHitRatio, prometheus.GaugeValue, s.Cache.HitRate)
	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(s.Cache.Size))
	ch <- prometheus.MustNewConstMetric(c.cacheCapacity, prometheus.GaugeValue, float64(s.Cache.Capacity))
	ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(s.Cache.Evictions))
	ch <- prometheus.MustNewConstMetric(c.cacheMemory, prometheus.GaugeValue, float64(s.Cache.EstimatedMemoryUsage))

	ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(s.Pool.Available), "available")
	ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(s.Pool.Busy), "busy")
	ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(s.Pool.Unhealthy), "unhealthy")
	ch <- prometheus.MustNewConstMetric(c.poolRequests, prometheus.CounterValue, float64(s.Pool.TotalRequests))

	if c.batchStats != nil {
		b := c.batchStats()
		ch <- prometheus.MustNewConstMetric(c.batchPending, prometheus.GaugeValue, float64(b.Pending))
		ch <- prometheus.MustNewConstMetric(c.batchFlushes, prometheus.CounterValue, float64(b.SizeFlushes), "size")
		ch <- prometheus.MustNewConstMetric(c.batchFlushes, prometheus.CounterValue, float64(b.TimerFlushes), "timer")
		ch <- prometheus.MustNewConstMetric(c.batchItems, prometheus.CounterValue, float64(b.Items))
	}
}

// NewRegistry returns a registry holding c plus the Go runtime and process collectors
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg, nil
}

// Handler serves reg in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
