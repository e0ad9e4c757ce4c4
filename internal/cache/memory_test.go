package cache

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T, size int, ttl time.Duration) (*MemoryCache[int], *fakeClock) {
	t.Helper()
	mc, err := NewMemoryCache[int](size, ttl)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	mc.now = clock.now
	return mc, clock
}

func TestMemoryCache_SetThenGet(t *testing.T) {
	mc, _ := newTestCache(t, 10, time.Minute)

	mc.Set("a", 1)
	v, ok := mc.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	mc.Set("a", 2)
	v, ok = mc.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, mc.Len())

	_, ok = mc.Get("missing")
	assert.False(t, ok)
}

func TestMemoryCache_LazyExpiry(t *testing.T) {
	mc, err := NewMemoryCache[int](10, time.Minute)
	require.NoError(t, err)

	mc.SetWithTTL("a", 1, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// still physically present until touched
	assert.Equal(t, 1, mc.Len())

	_, ok := mc.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, mc.Len(), "read should drop the expired entry")
}

func TestMemoryCache_ExpiryBoundary(t *testing.T) {
	mc, clock := newTestCache(t, 10, time.Minute)

	mc.SetWithTTL("a", 1, time.Second)
	clock.advance(time.Second)
	_, ok := mc.Get("a")
	assert.True(t, ok, "entry is live while now == expiresAt")

	clock.advance(time.Nanosecond)
	_, ok = mc.Get("a")
	assert.False(t, ok)
}

func TestMemoryCache_ZeroTTLUsesDefault(t *testing.T) {
	mc, clock := newTestCache(t, 10, time.Minute)

	mc.SetWithTTL("a", 1, 0)
	clock.advance(30 * time.Second)
	_, ok := mc.Get("a")
	assert.True(t, ok)

	clock.advance(31 * time.Second)
	_, ok = mc.Get("a")
	assert.False(t, ok)
}

func TestMemoryCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	mc, clock := newTestCache(t, 3, time.Minute)

	mc.Set("a", 1)
	clock.advance(time.Millisecond)
	mc.Set("b", 2)
	clock.advance(time.Millisecond)
	mc.Set("c", 3)
	clock.advance(time.Millisecond)

	// touching a makes b the oldest access
	_, ok := mc.Get("a")
	require.True(t, ok)

	mc.Set("d", 4)
	assert.Equal(t, 3, mc.Len())

	_, ok = mc.Get("b")
	assert.False(t, ok, "b had the oldest access time")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := mc.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, uint64(1), mc.Stats().Evictions)
}

func TestMemoryCache_OverwriteAtCapacityDoesNotEvict(t *testing.T) {
	mc, _ := newTestCache(t, 2, time.Minute)

	mc.Set("a", 1)
	mc.Set("b", 2)
	mc.Set("a", 10)

	assert.Equal(t, 2, mc.Len())
	_, ok := mc.Get("b")
	assert.True(t, ok)
	assert.Equal(t, uint64(0), mc.Stats().Evictions)
}

func TestMemoryCache_NeverExceedsCapacity(t *testing.T) {
	mc, _ := newTestCache(t, 5, time.Minute)

	for i := 0; i < 100; i++ {
		mc.Set(fmt.Sprintf("k%d", i), i)
		require.LessOrEqual(t, mc.Len(), 5)
	}
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	mc, _ := newTestCache(t, 10, time.Minute)

	mc.Set("a", 1)
	mc.Set("b", 2)

	mc.Delete("a")
	mc.Delete("a")
	mc.Delete("never-set")
	_, ok := mc.Get("a")
	assert.False(t, ok)

	mc.Clear()
	mc.Clear()
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCache_RemoveExpired(t *testing.T) {
	mc, clock := newTestCache(t, 10, time.Minute)

	mc.SetWithTTL("short", 1, time.Second)
	mc.SetWithTTL("long", 2, time.Hour)
	clock.advance(2 * time.Second)

	assert.Equal(t, 1, mc.RemoveExpired())
	assert.Equal(t, 1, mc.Len())
}

func TestMemoryCache_Stats(t *testing.T) {
	mc, err := NewMemoryCache[json.RawMessage](4, time.Minute)
	require.NoError(t, err)

	mc.Set("key", json.RawMessage(`"0x1"`))
	stats := mc.Stats()

	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, int64(len("key")+entryOverhead+5), stats.EstimatedMemoryUsage)
	assert.Zero(t, stats.HitRate)
}

func TestNewMemoryCache_InvalidSize(t *testing.T) {
	_, err := NewMemoryCache[int](0, time.Minute)
	assert.Error(t, err)
}
