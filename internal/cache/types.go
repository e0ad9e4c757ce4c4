package cache

import "time"

// Stats is a point-in-time view of a cache.
// HitRate is not tracked by the cache itself; owners that count hits and
// misses fill it in before publishing.
type Stats struct {
	Size                 int     `json:"size"`
	Capacity             int     `json:"capacity"`
	HitRate              float64 `json:"hitRate"`
	Evictions            uint64  `json:"evictions"`
	EstimatedMemoryUsage int64   `json:"estimatedMemoryUsage"` // bytes
}

// entry represents a cached item with its access and expiry timestamps.
// Expiry is checked on read; recency order lives in the LRU list.
type entry[V any] struct {
	value        V
	insertedAt   time.Time
	expiresAt    time.Time
	lastAccessAt time.Time
}

// expired returns true once now is strictly past expiresAt
func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}
