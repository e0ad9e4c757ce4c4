package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entryOverhead approximates the bookkeeping bytes held per entry
// (timestamps, list element, map slot)
const entryOverhead = 96

// opaqueValueSize is charged for values whose size cannot be measured
const opaqueValueSize = 64

// MemoryCache is an in-memory LRU cache with per-entry TTL.
// Capacity eviction removes the least recently accessed entry; expired
// entries are dropped lazily when read or by RemoveExpired.
type MemoryCache[V any] struct {
	entries    *lru.Cache[string, *entry[V]]
	capacity   int
	defaultTTL time.Duration
	evictions  uint64
	now        func() time.Time
	mu         sync.Mutex
}

// NewMemoryCache creates a new in-memory cache holding at most size entries
func NewMemoryCache[V any](size int, defaultTTL time.Duration) (*MemoryCache[V], error) {
	mc := &MemoryCache[V]{
		capacity:   size,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}

	entries, err := lru.New[string, *entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	mc.entries = entries

	return mc, nil
}

// Get retrieves a value from the cache and refreshes its access time.
// An expired entry is removed and reported as not found.
func (mc *MemoryCache[V]) Get(key string) (V, bool) {
	var zero V

	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.entries.Peek(key)
	if !ok {
		return zero, false
	}

	now := mc.now()
	if e.expired(now) {
		mc.entries.Remove(key)
		return zero, false
	}

	// Get moves the key to the front of the recency list
	mc.entries.Get(key)
	e.lastAccessAt = now
	return e.value, true
}

// Set stores a value under key with the default TTL
func (mc *MemoryCache[V]) Set(key string, value V) {
	mc.SetWithTTL(key, value, 0)
}

// SetWithTTL stores a value under key; ttl <= 0 uses the default TTL.
// When the cache is full and key is new, the least recently accessed
// entry is evicted first.
func (mc *MemoryCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	evicted := mc.entries.Add(key, &entry[V]{
		value:        value,
		insertedAt:   now,
		expiresAt:    now.Add(ttl),
		lastAccessAt: now,
	})
	if evicted {
		mc.evictions++
	}
}

// Delete removes key; missing keys are ignored
func (mc *MemoryCache[V]) Delete(key string) {
	mc.mu.Lock()
	mc.entries.Remove(key)
	mc.mu.Unlock()
}

// Clear removes all entries
func (mc *MemoryCache[V]) Clear() {
	mc.mu.Lock()
	mc.entries.Purge()
	mc.mu.Unlock()
}

// Len returns the number of physically present entries, expired or not
func (mc *MemoryCache[V]) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.entries.Len()
}

// Capacity returns the maximum number of entries
func (mc *MemoryCache[V]) Capacity() int {
	return mc.capacity
}

// RemoveExpired removes all expired entries and returns how many were dropped
func (mc *MemoryCache[V]) RemoveExpired() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	removed := 0
	for _, key := range mc.entries.Keys() {
		e, ok := mc.entries.Peek(key)
		if ok && e.expired(now) {
			mc.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Stats returns size, capacity and an estimate of memory held by entries.
// HitRate is left at zero.
func (mc *MemoryCache[V]) Stats() Stats {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	var usage int64
	for _, key := range mc.entries.Keys() {
		e, ok := mc.entries.Peek(key)
		if !ok {
			continue
		}
		usage += int64(len(key)) + entryOverhead + estimateValueSize(e.value)
	}

	return Stats{
		Size:                 mc.entries.Len(),
		Capacity:             mc.capacity,
		Evictions:            mc.evictions,
		EstimatedMemoryUsage: usage,
	}
}

// estimateValueSize measures byte-like values and charges a flat size otherwise
func estimateValueSize(v any) int64 {
	switch val := v.(type) {
	case []byte:
		return int64(len(val))
	case json.RawMessage:
		return int64(len(val))
	case string:
		return int64(len(val))
	case nil:
		return 0
	default:
		return opaqueValueSize
	}
}
