package health

import (
	"fmt"
	"time"

	"tokensend/internal/config"
	"tokensend/internal/perf"
)

// Rule names
const (
	RuleNoHealthyConnections = "no_healthy_connections"
	RuleHighErrorRate        = "high_error_rate"
	RuleSlowResponses        = "slow_responses"
	RuleLowCacheHitRate      = "low_cache_hit_rate"
	RulePoolExhausted        = "pool_exhausted"
)

// DefaultRules builds the rule set for the given thresholds.
// The no-healthy-connections rule is always present; the others are enabled
// by a non-zero threshold.
func DefaultRules(cfg *config.AlertConfig) map[string]Rule {
	rules := map[string]Rule{
		RuleNoHealthyConnections: {
			Name:     RuleNoHealthyConnections,
			Severity: SeverityCritical,
			Check: func(s perf.Snapshot) (bool, string) {
				healthy := s.Pool.Available + s.Pool.Busy
				return healthy == 0, fmt.Sprintf("%d of %d connections unhealthy", s.Pool.Unhealthy, s.Pool.Total)
			},
		},
	}
	if cfg == nil {
		return rules
	}

	if cfg.MaxErrorRate > 0 {
		rules[RuleHighErrorRate] = Rule{
			Name:     RuleHighErrorRate,
			Severity: SeverityCritical,
			Check: func(s perf.Snapshot) (bool, string) {
				rate := s.Monitor.ErrorRate()
				return rate > cfg.MaxErrorRate, fmt.Sprintf("error rate %.2f%% exceeds %.2f%%", rate*100, cfg.MaxErrorRate*100)
			},
		}
	}

	if cfg.MaxP95 > 0 {
		limit := time.Duration(cfg.MaxP95) * time.Millisecond
		rules[RuleSlowResponses] = Rule{
			Name:     RuleSlowResponses,
			Severity: SeverityWarning,
			Check: func(s perf.Snapshot) (bool, string) {
				p95 := s.Monitor.ResponseTimeStats.P95
				return p95 > limit, fmt.Sprintf("p95 response time %s exceeds %s", p95, limit)
			},
		}
	}

	if cfg.MinHitRate > 0 {
		rules[RuleLowCacheHitRate] = Rule{
			Name:     RuleLowCacheHitRate,
			Severity: SeverityWarning,
			Check: func(s perf.Snapshot) (bool, string) {
				c := s.Monitor.Cache
				if c.Hits+c.Misses == 0 {
					return false, ""
				}
				return c.HitRate < cfg.MinHitRate, fmt.Sprintf("cache hit rate %.2f%% below %.2f%%", c.HitRate*100, cfg.MinHitRate*100)
			},
		}
	}

	if cfg.MinAvailableConnections > 0 {
		rules[RulePoolExhausted] = Rule{
			Name:     RulePoolExhausted,
			Severity: SeverityWarning,
			Check: func(s perf.Snapshot) (bool, string) {
				return s.Pool.Available < cfg.MinAvailableConnections,
					fmt.Sprintf("%d connections available, want at least %d", s.Pool.Available, cfg.MinAvailableConnections)
			},
		}
	}

	return rules
}
