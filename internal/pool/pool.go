package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNoEndpoints is returned when a pool is created without endpoints
	ErrNoEndpoints = errors.New("at least one endpoint is required")

	// ErrInvalidMaxConnections is returned when maxConnections is not positive
	ErrInvalidMaxConnections = errors.New("maxConnections must be positive")
)

// DefaultFailureThreshold is the number of consecutive failures that marks a
// connection unhealthy when no threshold is configured
const DefaultFailureThreshold = 3

// Pool is a fixed set of endpoint connections with availability tracking.
// Checkout never blocks: an empty available set is reported to the caller.
type Pool struct {
	connections      []*Connection
	available        []*Connection
	busy             map[string]*Connection
	unhealthy        map[string]*Connection
	failureThreshold int
	now              func() time.Time
	logger           zerolog.Logger
	mu               sync.Mutex
}

// Option configures a Pool
type Option func(*Pool)

// WithFailureThreshold sets how many consecutive failures mark a connection unhealthy
func WithFailureThreshold(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.failureThreshold = n
		}
	}
}

// New creates min(maxConnections, len(endpoints)) connections, assigning
// endpoints round-robin. All connections start healthy and available.
func New(endpoints []string, maxConnections int, logger zerolog.Logger, opts ...Option) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if maxConnections <= 0 {
		return nil, ErrInvalidMaxConnections
	}

	p := &Pool{
		busy:             make(map[string]*Connection),
		unhealthy:        make(map[string]*Connection),
		failureThreshold: DefaultFailureThreshold,
		now:              time.Now,
		logger:           logger.With().Str("component", "pool").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	count := min(maxConnections, len(endpoints))
	p.connections = make([]*Connection, 0, count)
	p.available = make([]*Connection, 0, count)
	for i := 0; i < count; i++ {
		c := newConnection(uuid.NewString(), endpoints[i%len(endpoints)])
		p.connections = append(p.connections, c)
		p.available = append(p.available, c)
	}

	p.logger.Info().
		Int("connections", count).
		Int("endpoints", len(endpoints)).
		Msg("pool initialized")

	return p, nil
}

// GetConnection checks out the oldest available connection.
// Returns false if every healthy connection is busy.
func (p *Pool) GetConnection() (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.available) == 0 {
		return nil, false
	}

	c := p.available[0]
	p.available[0] = nil
	p.available = p.available[1:]
	p.busy[c.id] = c

	c.lastUsedAt.Store(p.now().UnixNano())
	c.requestCount.Add(1)

	return c, true
}

// ReleaseConnection returns a busy connection to the available set.
// Connections that are not busy (already released or unhealthy) are ignored.
func (p *Pool) ReleaseConnection(c *Connection) {
	if c == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.busy[c.id]; !ok {
		return
	}
	delete(p.busy, c.id)
	p.available = append(p.available, c)
}

// MarkUnhealthy permanently removes c from the available and busy sets
func (p *Pool) MarkUnhealthy(c *Connection) {
	if c == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.markUnhealthyLocked(c)
}

func (p *Pool) markUnhealthyLocked(c *Connection) {
	if _, ok := p.unhealthy[c.id]; ok {
		return
	}

	delete(p.busy, c.id)
	for i, a := range p.available {
		if a.id == c.id {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}

	c.healthy.Store(false)
	p.unhealthy[c.id] = c

	p.logger.Warn().
		Str("connection", c.id).
		Str("endpoint", c.endpoint).
		Int("failures", c.failures).
		Msg("connection marked unhealthy")
}

// RecordFailure counts a consecutive failure on c and marks it unhealthy once
// the threshold is reached. Returns true if c was marked unhealthy.
func (p *Pool) RecordFailure(c *Connection) bool {
	if c == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.unhealthy[c.id]; ok {
		return false
	}

	c.failures++
	if c.failures < p.failureThreshold {
		p.logger.Debug().
			Str("connection", c.id).
			Int("failures", c.failures).
			Int("threshold", p.failureThreshold).
			Msg("connection failure recorded")
		return false
	}

	p.markUnhealthyLocked(c)
	return true
}

// RecordSuccess resets the consecutive failure count of c
func (p *Pool) RecordSuccess(c *Connection) {
	if c == nil {
		return
	}

	p.mu.Lock()
	c.failures = 0
	p.mu.Unlock()
}

// Stats returns connection counts and the aggregate request counter
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var requests uint64
	for _, c := range p.connections {
		requests += c.requestCount.Load()
	}

	return Stats{
		Total:         len(p.connections),
		Available:     len(p.available),
		Busy:          len(p.busy),
		Unhealthy:     len(p.unhealthy),
		TotalRequests: requests,
	}
}

// Connections returns a copy of every connection's state, in creation order
func (p *Pool) Connections() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]Info, 0, len(p.connections))
	for _, c := range p.connections {
		_, busy := p.busy[c.id]
		result = append(result, Info{
			ID:           c.id,
			Endpoint:     c.endpoint,
			LastUsedAt:   c.LastUsedAt(),
			RequestCount: c.RequestCount(),
			Healthy:      c.IsHealthy(),
			Busy:         busy,
		})
	}
	return result
}

// HealthyEndpoints returns the distinct endpoints that still have a healthy connection
func (p *Pool) HealthyEndpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool)
	result := make([]string, 0)
	for _, c := range p.connections {
		if c.IsHealthy() && !seen[c.endpoint] {
			seen[c.endpoint] = true
			result = append(result, c.endpoint)
		}
	}
	return result
}
