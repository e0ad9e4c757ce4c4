package monitor

import (
	"sync"
	"time"
)

// DefaultMaxResponseTimeHistory is the window length used when none is configured
const DefaultMaxResponseTimeHistory = 1000

// RequestMetrics holds request outcome counters
type RequestMetrics struct {
	Total               uint64        `json:"total"`
	Successful          uint64        `json:"successful"`
	Failed              uint64        `json:"failed"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
}

// ResponseTimeStats holds latency statistics over the current window
type ResponseTimeStats struct {
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Average time.Duration `json:"average"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Samples int           `json:"samples"`
}

// CacheMetrics holds cache hit/miss counters reported by the cache's owner
type CacheMetrics struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// Metrics is a snapshot of everything the monitor tracks
type Metrics struct {
	Requests          RequestMetrics    `json:"requests"`
	ResponseTimeStats ResponseTimeStats `json:"responseTimeStats"`
	Cache             CacheMetrics      `json:"cache"`
}

// ErrorRate returns failed/total, 0 when no requests were recorded
func (m Metrics) ErrorRate() float64 {
	if m.Requests.Total == 0 {
		return 0
	}
	return float64(m.Requests.Failed) / float64(m.Requests.Total)
}

// Monitor records request latencies and outcomes over a rolling window
type Monitor struct {
	requests RequestMetrics
	cache    CacheMetrics
	window   *window
	mu       sync.Mutex
}

// New creates a monitor keeping the last maxHistory latency samples
func New(maxHistory int) *Monitor {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxResponseTimeHistory
	}
	return &Monitor{
		window: newWindow(maxHistory),
	}
}

// RecordRequest records one completed request
func (m *Monitor) RecordRequest(latency time.Duration, success bool) {
	if latency < 0 {
		latency = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests.Total++
	if success {
		m.requests.Successful++
	} else {
		m.requests.Failed++
	}

	m.window.push(latency)
	m.requests.AverageResponseTime = m.window.mean()
}

// RecordCacheHit counts a cache hit
func (m *Monitor) RecordCacheHit() {
	m.mu.Lock()
	m.cache.Hits++
	m.updateHitRate()
	m.mu.Unlock()
}

// RecordCacheMiss counts a cache miss
func (m *Monitor) RecordCacheMiss() {
	m.mu.Lock()
	m.cache.Misses++
	m.updateHitRate()
	m.mu.Unlock()
}

func (m *Monitor) updateHitRate() {
	total := m.cache.Hits + m.cache.Misses
	if total == 0 {
		m.cache.HitRate = 0
		return
	}
	m.cache.HitRate = float64(m.cache.Hits) / float64(total)
}

// HitRate returns hits / (hits + misses)
func (m *Monitor) HitRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.HitRate
}

// Metrics returns counters and latency statistics for the current window.
// An empty window reports zero for every statistic.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := m.window.sorted()
	stats := ResponseTimeStats{
		Average: m.window.mean(),
		P95:     percentile(sorted, 95),
		P99:     percentile(sorted, 99),
		Samples: len(sorted),
	}
	if len(sorted) > 0 {
		stats.Min = sorted[0]
		stats.Max = sorted[len(sorted)-1]
	}

	return Metrics{
		Requests:          m.requests,
		ResponseTimeStats: stats,
		Cache:             m.cache,
	}
}

// Reset clears all counters and the latency window
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = RequestMetrics{}
	m.cache = CacheMetrics{}
	m.window.reset()
}
