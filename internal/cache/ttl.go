package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/matchcache/internal/metrics"
)

// DefaultTTL is used when a non-positive TTL is passed to Get.
const DefaultTTL = 5 * time.Minute

// Entry is a value together with the time it was written.
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// TTLCache maps keys to values and expires them lazily: freshness is only
// checked when a key is read, against the TTL supplied by the reader.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]Entry[V]
	now     func() time.Time
	name    string // metrics label; empty disables metrics
	clone   func(V) V
}

// TTLOption configures a TTLCache.
type TTLOption func(*ttlOptions)

type ttlOptions struct {
	now   func() time.Time
	name  string
	clone any
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TTLOption {
	return func(o *ttlOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTTLMetrics reports hits, misses and expirations under the given cache label.
func WithTTLMetrics(name string) TTLOption {
	return func(o *ttlOptions) { o.name = name }
}

// WithTTLClone copies values on Set and on every read. Without it the cache
// stores and returns values as given.
func WithTTLClone[V any](fn func(V) V) TTLOption {
	return func(o *ttlOptions) { o.clone = fn }
}

// NewTTL creates an empty TTLCache.
func NewTTL[K comparable, V any](opts ...TTLOption) *TTLCache[K, V] {
	o := ttlOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[K, V]{
		entries: make(map[K]Entry[V]),
		now:     o.now,
		name:    o.name,
		clone:   cloneOption(o.clone, identity[V]),
	}
}

// Get returns the value stored under key if it is younger than ttl.
// An expired entry is removed before reporting the miss.
func (c *TTLCache[K, V]) Get(key K, ttl time.Duration) (V, bool) {
	e, ok := c.GetWithTimestamp(key, ttl)
	return e.Value, ok
}

// GetWithTimestamp is Get but also returns the time the value was stored.
func (c *TTLCache[K, V]) GetWithTimestamp(key K, ttl time.Duration) (Entry[V], bool) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.observe(metrics.CacheMisses)
		return Entry[V]{}, false
	}
	if c.now().Sub(e.StoredAt) > ttl {
		delete(c.entries, key)
		c.mu.Unlock()
		c.observe(metrics.CacheExpirations)
		c.observe(metrics.CacheMisses)
		return Entry[V]{}, false
	}
	c.mu.Unlock()

	c.observe(metrics.CacheHits)
	e.Value = c.clone(e.Value)
	return e, true
}

// Set replaces any entry for key with value stamped at the current time.
func (c *TTLCache[K, V]) Set(key K, value V) {
	value = c.clone(value)
	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: value, StoredAt: c.now()}
	c.mu.Unlock()
}

// Invalidate removes key. It is a no-op for absent keys.
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]Entry[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// has reports presence without applying expiry.
func (c *TTLCache[K, V]) has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func (c *TTLCache[K, V]) observe(vec *prometheus.CounterVec) {
	if c.name == "" {
		return
	}
	vec.WithLabelValues(c.name).Inc()
}
