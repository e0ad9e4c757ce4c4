package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw config bytes; ext selects the format (".json", ".yaml", ".yml")
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxResponseTimeHistory == 0 {
		cfg.MaxResponseTimeHistory = DefaultMaxResponseTimeHistory
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].Name == "" {
			cfg.Endpoints[i].Name = fmt.Sprintf("endpoint-%d", i)
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if len(cfg.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}

	names := make(map[string]bool)
	urls := make(map[string]string)
	for i, e := range cfg.Endpoints {
		if names[e.Name] {
			return fmt.Errorf("endpoint[%d]: duplicate endpoint name '%s'", i, e.Name)
		}
		names[e.Name] = true

		if url := e.URL(); url != "" {
			if other, ok := urls[url]; ok {
				return fmt.Errorf("endpoint '%s': url '%s' already used by endpoint '%s'", e.Name, url, other)
			}
			urls[url] = e.Name
		}

		if e.RPCURL == "" && e.WSURL == "" {
			return fmt.Errorf("endpoint '%s': at least one of rpcUrl or wsUrl is required", e.Name)
		}
		if e.RateLimit < 0 {
			return fmt.Errorf("endpoint '%s': rateLimit must be non-negative", e.Name)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"cacheSize", cfg.CacheSize},
		{"cacheTTL", cfg.CacheTTL},
		{"maxConnections", cfg.MaxConnections},
		{"batchSize", cfg.BatchSize},
		{"batchTimeout", cfg.BatchTimeout},
		{"requestTimeout", cfg.RequestTimeout},
		{"maxResponseTimeHistory", cfg.MaxResponseTimeHistory},
		{"failureThreshold", cfg.FailureThreshold},
		{"retryMaxAttempts", cfg.RetryMaxAttempts},
		{"retryInitialInterval", cfg.RetryInitialInterval},
		{"healthCheckInterval", cfg.HealthCheckInterval},
		{"cleanupInterval", cfg.CleanupInterval},
	}
	for _, p := range positive {
		if p.value < 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if a := cfg.Alerts; a != nil {
		if a.MaxErrorRate < 0 || a.MaxErrorRate > 1 {
			return fmt.Errorf("alerts.maxErrorRate must be between 0 and 1")
		}
		if a.MinHitRate < 0 || a.MinHitRate > 1 {
			return fmt.Errorf("alerts.minHitRate must be between 0 and 1")
		}
		if a.MaxP95 < 0 || a.MinAvailableConnections < 0 {
			return fmt.Errorf("alerts thresholds must be non-negative")
		}
	}

	return nil
}
