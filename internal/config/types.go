package config

import "time"

// Config represents the main configuration structure
type Config struct {
	LogLevel               string           `json:"logLevel" yaml:"logLevel"`
	Endpoints              []EndpointConfig `json:"endpoints" yaml:"endpoints"`
	CacheSize              int              `json:"cacheSize" yaml:"cacheSize"`
	CacheTTL               int              `json:"cacheTTL" yaml:"cacheTTL"` // ms
	MaxConnections         int              `json:"maxConnections" yaml:"maxConnections"`
	BatchSize              int              `json:"batchSize" yaml:"batchSize"`
	BatchTimeout           int              `json:"batchTimeout" yaml:"batchTimeout"`     // ms
	RequestTimeout         int              `json:"requestTimeout" yaml:"requestTimeout"` // ms
	MaxResponseTimeHistory int              `json:"maxResponseTimeHistory" yaml:"maxResponseTimeHistory"`
	FailureThreshold       int              `json:"failureThreshold" yaml:"failureThreshold"`
	RetryMaxAttempts       int              `json:"retryMaxAttempts" yaml:"retryMaxAttempts"`
	RetryInitialInterval   int              `json:"retryInitialInterval" yaml:"retryInitialInterval"` // ms
	HealthCheckInterval    int              `json:"healthCheckInterval" yaml:"healthCheckInterval"`   // ms
	CleanupInterval        int              `json:"cleanupInterval" yaml:"cleanupInterval"`           // ms
	MetricsAddr            string           `json:"metricsAddr" yaml:"metricsAddr"`
	Alerts                 *AlertConfig     `json:"alerts,omitempty" yaml:"alerts,omitempty"`
}

// EndpointConfig represents a single blockchain RPC endpoint
type EndpointConfig struct {
	Name      string  `json:"name" yaml:"name"`
	RPCURL    string  `json:"rpcUrl" yaml:"rpcUrl"`
	WSURL     string  `json:"wsUrl" yaml:"wsUrl"`
	RateLimit float64 `json:"rateLimit" yaml:"rateLimit"` // requests per second, 0 = unlimited
}

// AlertConfig holds thresholds for the health checker rules.
// A zero threshold disables the corresponding rule.
type AlertConfig struct {
	MaxErrorRate            float64 `json:"maxErrorRate" yaml:"maxErrorRate"` // 0..1
	MaxP95                  int     `json:"maxP95" yaml:"maxP95"`             // ms
	MinHitRate              float64 `json:"minHitRate" yaml:"minHitRate"`     // 0..1
	MinAvailableConnections int     `json:"minAvailableConnections" yaml:"minAvailableConnections"`
}

// Default values
const (
	DefaultLogLevel               = "info"
	DefaultCacheSize              = 1000
	DefaultCacheTTL               = 30000 // ms
	DefaultMaxConnections         = 10
	DefaultBatchSize              = 10
	DefaultBatchTimeout           = 100   // ms
	DefaultRequestTimeout         = 10000 // ms
	DefaultMaxResponseTimeHistory = 1000
	DefaultFailureThreshold       = 3
	DefaultRetryMaxAttempts       = 3
	DefaultRetryInitialInterval   = 500   // ms
	DefaultHealthCheckInterval    = 10000 // ms
	DefaultCleanupInterval        = 60000 // ms
)

// GetCacheTTLDuration returns cache TTL as time.Duration
func (c *Config) GetCacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Millisecond
}

// GetBatchTimeoutDuration returns batch timeout as time.Duration
func (c *Config) GetBatchTimeoutDuration() time.Duration {
	return time.Duration(c.BatchTimeout) * time.Millisecond
}

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetRetryInitialIntervalDuration returns the first retry delay as time.Duration
func (c *Config) GetRetryInitialIntervalDuration() time.Duration {
	return time.Duration(c.RetryInitialInterval) * time.Millisecond
}

// GetHealthCheckIntervalDuration returns health check interval as time.Duration
func (c *Config) GetHealthCheckIntervalDuration() time.Duration {
	return time.Duration(c.HealthCheckInterval) * time.Millisecond
}

// GetCleanupIntervalDuration returns the expired-entry sweep interval as time.Duration
func (c *Config) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(c.CleanupInterval) * time.Millisecond
}

// EndpointURLs returns the identifier of every configured endpoint in order.
// The RPC URL is preferred; endpoints with only a WebSocket URL use that.
func (c *Config) EndpointURLs() []string {
	urls := make([]string, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		urls = append(urls, e.URL())
	}
	return urls
}

// IsMetricsEnabled returns true if a metrics listen address is configured
func (c *Config) IsMetricsEnabled() bool {
	return c.MetricsAddr != ""
}

// URL returns the identifier used for this endpoint in the connection pool
func (e EndpointConfig) URL() string {
	if e.RPCURL != "" {
		return e.RPCURL
	}
	return e.WSURL
}
