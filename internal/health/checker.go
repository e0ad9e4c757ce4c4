package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tokensend/internal/jsonrpc"
)

const (
	// DefaultInterval is the polling period used when none is configured
	DefaultInterval = 10 * time.Second

	defaultProbeTimeout = 5 * time.Second
	maxConcurrentProbes = 8
)

// Checker polls performance snapshots, evaluates alert rules and probes
// endpoints on a fixed interval
type Checker struct {
	source       Source
	rules        map[string]Rule
	endpoints    []Endpoint
	notifiers    []Notifier
	interval     time.Duration
	probeTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger

	mu         sync.Mutex
	firing     map[string]bool
	lastProbes []ProbeResult
}

// NewChecker creates a checker. interval <= 0 means DefaultInterval.
func NewChecker(source Source, rules map[string]Rule, endpoints []Endpoint, interval time.Duration, logger zerolog.Logger, notifiers ...Notifier) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Checker{
		source:       source,
		rules:        rules,
		endpoints:    endpoints,
		notifiers:    notifiers,
		interval:     interval,
		probeTimeout: min(interval, defaultProbeTimeout),
		now:          time.Now,
		logger:       logger.With().Str("component", "health").Logger(),
		firing:       make(map[string]bool),
	}
}

// Run checks immediately and then every interval until ctx is done
func (c *Checker) Run(ctx context.Context) error {
	c.logger.Info().
		Dur("interval", c.interval).
		Int("rules", len(c.rules)).
		Int("endpoints", len(c.endpoints)).
		Msg("health checker started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Probe(ctx)
		c.Evaluate(ctx)

		select {
		case <-ctx.Done():
			c.logger.Info().Msg("health checker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Evaluate runs every rule against a fresh snapshot and notifies about rules
// that changed state. Returns the alerts sent.
func (c *Checker) Evaluate(ctx context.Context) []Alert {
	snapshot := c.source.Snapshot()
	now := c.now()

	names := make([]string, 0, len(c.rules))
	for name := range c.rules {
		names = append(names, name)
	}
	sort.Strings(names)

	var alerts []Alert
	c.mu.Lock()
	for _, name := range names {
		rule := c.rules[name]
		firing, message := rule.Check(snapshot)
		if firing == c.firing[name] {
			continue
		}
		c.firing[name] = firing

		state := StateResolved
		if firing {
			state = StateFiring
		} else {
			message = fmt.Sprintf("%s resolved", name)
		}
		alerts = append(alerts, Alert{
			Rule:     name,
			Severity: rule.Severity,
			State:    state,
			Message:  message,
			At:       now,
		})
	}
	c.mu.Unlock()

	for _, alert := range alerts {
		for _, n := range c.notifiers {
			if err := n.Notify(ctx, alert); err != nil {
				c.logger.Warn().Err(err).Str("rule", alert.Rule).Msg("failed to deliver alert")
			}
		}
	}

	return alerts
}

// Firing returns the names of rules currently firing, sorted
func (c *Checker) Firing() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, 0, len(c.firing))
	for name, firing := range c.firing {
		if firing {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// Probe asks every endpoint for its block number in parallel, bypassing the
// pool, and records the highest block seen per endpoint
func (c *Checker) Probe(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, len(c.endpoints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	for i, e := range c.endpoints {
		g.Go(func() error {
			results[i] = c.probe(gctx, e)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			c.logger.Warn().Err(r.Err).Str("endpoint", r.Endpoint).Msg("endpoint probe failed")
			continue
		}
		c.logger.Debug().
			Str("endpoint", r.Endpoint).
			Uint64("block", r.Block).
			Dur("latency", r.Latency).
			Msg("endpoint probed")
	}

	c.mu.Lock()
	c.lastProbes = results
	c.mu.Unlock()

	return results
}

func (c *Checker) probe(ctx context.Context, e Endpoint) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	result := ProbeResult{Endpoint: e.Name()}
	start := time.Now()
	raw, err := e.Call(ctx, "eth_blockNumber", nil)
	result.Latency = time.Since(start)
	if err != nil {
		result.Err = err
		return result
	}

	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		result.Err = fmt.Errorf("failed to parse block number: %w", err)
		return result
	}
	block, err := jsonrpc.ParseQuantity(hex)
	if err != nil {
		result.Err = err
		return result
	}

	result.Block = block
	e.Status().UpdateBlock(block)
	return result
}

// LastProbes returns the results of the most recent probe round
func (c *Checker) LastProbes() []ProbeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]ProbeResult, len(c.lastProbes))
	copy(result, c.lastProbes)
	return result
}
