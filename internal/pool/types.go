package pool

import (
	"sync/atomic"
	"time"
)

// Connection is a logical handle on one endpoint.
// While healthy it is either available or busy; once marked unhealthy it
// never returns to either set.
type Connection struct {
	id       string
	endpoint string

	lastUsedAt   atomic.Int64 // unix nanoseconds
	requestCount atomic.Uint64
	healthy      atomic.Bool

	// consecutive failures, guarded by the owning pool's mutex
	failures int
}

// newConnection creates a healthy connection
func newConnection(id, endpoint string) *Connection {
	c := &Connection{
		id:       id,
		endpoint: endpoint,
	}
	c.healthy.Store(true)
	return c
}

// ID returns the connection id
func (c *Connection) ID() string {
	return c.id
}

// Endpoint returns the endpoint this connection targets
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// LastUsedAt returns when the connection was last checked out
func (c *Connection) LastUsedAt() time.Time {
	ns := c.lastUsedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// RequestCount returns how many times the connection was checked out
func (c *Connection) RequestCount() uint64 {
	return c.requestCount.Load()
}

// IsHealthy returns the health status
func (c *Connection) IsHealthy() bool {
	return c.healthy.Load()
}

// Info is a copy of a connection's state for reporting
type Info struct {
	ID           string    `json:"id"`
	Endpoint     string    `json:"endpoint"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
	RequestCount uint64    `json:"requestCount"`
	Healthy      bool      `json:"healthy"`
	Busy         bool      `json:"busy"`
}

// Stats reports pool occupancy and aggregate request counters
type Stats struct {
	Total         int    `json:"total"`
	Available     int    `json:"available"`
	Busy          int    `json:"busy"`
	Unhealthy     int    `json:"unhealthy"`
	TotalRequests uint64 `json:"totalRequests"`
}
