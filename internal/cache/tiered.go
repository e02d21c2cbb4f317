package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/matchcache/internal/errorreporting"
	"github.com/onnwee/matchcache/internal/metrics"
)

// DefaultKeyPrefix namespaces persistent tier keys.
const DefaultKeyPrefix = "match_cache_"

var errEncode = errors.New("encode value")

// TieredCache keeps documents in memory and mirrors them into a
// PersistentStore. The memory tier is authoritative; the persistent tier is
// best effort and only consulted on a memory miss.
type TieredCache[V any] struct {
	mu     sync.RWMutex
	memory map[string]V

	store  PersistentStore // nil means memory only
	prefix string
	clone  func(V) V
	logger *slog.Logger
}

// TieredOption configures a TieredCache.
type TieredOption func(*tieredOptions)

type tieredOptions struct {
	prefix string
	logger *slog.Logger
	clone  any
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) TieredOption {
	return func(o *tieredOptions) { o.prefix = prefix }
}

// WithTieredLogger sets the logger. The default is slog.Default().
func WithTieredLogger(l *slog.Logger) TieredOption {
	return func(o *tieredOptions) { o.logger = l }
}

// WithTieredClone sets how values are copied in and out of the memory tier.
// The default is JSONClone.
func WithTieredClone[V any](fn func(V) V) TieredOption {
	return func(o *tieredOptions) { o.clone = fn }
}

// NewTiered creates a TieredCache over store. A nil store is allowed.
func NewTiered[V any](store PersistentStore, opts ...TieredOption) *TieredCache[V] {
	o := tieredOptions{prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &TieredCache[V]{
		memory: make(map[string]V),
		store:  store,
		prefix: o.prefix,
		clone:  cloneOption(o.clone, JSONClone[V]),
		logger: o.logger,
	}
}

// Get looks id up in memory, then in the persistent tier. A persistent hit is
// promoted into memory unless a Set for id landed while it was being read.
// Unreadable persisted data is reported as a miss. The result is a copy.
func (c *TieredCache[V]) Get(id string) (V, bool) {
	c.mu.RLock()
	v, ok := c.memory[id]
	c.mu.RUnlock()
	if ok {
		metrics.TierHits.WithLabelValues("memory").Inc()
		return c.clone(v), true
	}

	v, ok, err := c.load(id)
	if err != nil {
		var zero V
		return zero, false
	}
	if !ok {
		return v, false
	}

	c.mu.Lock()
	if cur, ok := c.memory[id]; ok {
		c.mu.Unlock()
		metrics.TierHits.WithLabelValues("memory").Inc()
		return c.clone(cur), true
	}
	c.memory[id] = v
	c.mu.Unlock()
	metrics.TierHits.WithLabelValues("persistent").Inc()
	metrics.TierPromotions.Inc()
	return c.clone(v), true
}

// Set stores a copy of value in memory and attempts to mirror it into the persistent
// tier. Persistent failures are logged and otherwise ignored.
func (c *TieredCache[V]) Set(id string, value V) {
	stored := c.clone(value)
	c.mu.Lock()
	c.memory[id] = stored
	c.mu.Unlock()

	if err := c.persist(id, value); err != nil {
		reason := writeFailureReason(err)
		metrics.PersistentWriteFailures.WithLabelValues(reason).Inc()
		c.logger.Warn("tiered cache: persistent write failed, serving from memory",
			"id", id, "reason", reason, "error", err)
		errorreporting.Breadcrumb("cache", fmt.Sprintf("persistent write failed (%s)", reason))
	}
}

// Invalidate removes id from both tiers.
func (c *TieredCache[V]) Invalidate(id string) {
	c.mu.Lock()
	delete(c.memory, id)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.RemoveItem(c.key(id)); err != nil {
		c.logger.Warn("tiered cache: persistent remove failed", "id", id, "error", err)
	}
}

// Clear empties the memory tier. Persisted entries are left for the next
// process in the same session.
func (c *TieredCache[V]) Clear() {
	c.mu.Lock()
	c.memory = make(map[string]V)
	c.mu.Unlock()
}

// Len returns the number of documents held in memory.
func (c *TieredCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.memory)
}

func (c *TieredCache[V]) key(id string) string {
	return c.prefix + id
}

// load reads and decodes id from the persistent tier. A corrupt entry is
// removed so it is not decoded again.
func (c *TieredCache[V]) load(id string) (V, bool, error) {
	var zero V
	if c.store == nil {
		return zero, false, nil
	}

	raw, ok, err := c.store.GetItem(c.key(id))
	if err != nil {
		metrics.PersistentReadFailures.WithLabelValues("store").Inc()
		c.logger.Debug("tiered cache: persistent read failed", "id", id, "error", err)
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}

	v, err := decode[V](raw)
	if err != nil {
		metrics.PersistentReadFailures.WithLabelValues("decode").Inc()
		c.logger.Debug("tiered cache: discarding unreadable entry", "id", id, "error", err)
		if rmErr := c.store.RemoveItem(c.key(id)); rmErr != nil {
			c.logger.Debug("tiered cache: remove unreadable entry", "id", id, "error", rmErr)
		}
		return zero, false, err
	}
	return v, true, nil
}

func (c *TieredCache[V]) persist(id string, value V) error {
	if c.store == nil {
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", errEncode, err)
	}
	return c.store.SetItem(c.key(id), string(b))
}

func decode[V any](raw string) (V, error) {
	var v V
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, fmt.Errorf("decode persisted value: %w", err)
	}
	return v, nil
}

func writeFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, errEncode):
		return "encode"
	default:
		return "other"
	}
}
