package cache

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/matchcache/internal/metrics"
	"github.com/onnwee/matchcache/internal/tracing"
)

// DefaultExistenceTTL is used when a non-positive TTL is passed to GetOrFetch.
const DefaultExistenceTTL = 10 * time.Minute

// Lookup is the answer to "does this document exist, and what does it hold".
// Data is the zero value whenever Exists is false.
type Lookup[V any] struct {
	Exists bool
	Data   V
}

// Fetcher performs a remote lookup for a single document id.
type Fetcher[V any] func(ctx context.Context, id string) (Lookup[V], error)

// ExistenceCache memoizes remote lookups, caching absence the same way as
// presence.
type ExistenceCache[V any] struct {
	records *TTLCache[string, Lookup[V]]
	group   *singleflight.Group // nil unless coalescing is enabled
	clone   func(V) V
	logger  *slog.Logger
}

// ExistenceOption configures an ExistenceCache.
type ExistenceOption func(*existenceOptions)

type existenceOptions struct {
	ttl      []TTLOption
	coalesce bool
	logger   *slog.Logger
	clone    any
}

// WithExistenceClock overrides the time source of the underlying record cache.
func WithExistenceClock(now func() time.Time) ExistenceOption {
	return func(o *existenceOptions) { o.ttl = append(o.ttl, WithClock(now)) }
}

// WithExistenceMetrics reports record hits and misses under the given label.
func WithExistenceMetrics(name string) ExistenceOption {
	return func(o *existenceOptions) { o.ttl = append(o.ttl, WithTTLMetrics(name)) }
}

// WithCoalescing makes concurrent misses for the same id share one fetch.
func WithCoalescing() ExistenceOption {
	return func(o *existenceOptions) { o.coalesce = true }
}

// WithExistenceLogger sets the logger. The default is slog.Default().
func WithExistenceLogger(l *slog.Logger) ExistenceOption {
	return func(o *existenceOptions) { o.logger = l }
}

// WithExistenceClone sets how document data is copied in and out of the
// cache. The default is JSONClone.
func WithExistenceClone[V any](fn func(V) V) ExistenceOption {
	return func(o *existenceOptions) { o.clone = fn }
}

// NewExistence creates an empty ExistenceCache. Callers never share data
// with the cache: records are copied when stored and when read.
func NewExistence[V any](opts ...ExistenceOption) *ExistenceCache[V] {
	var o existenceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	clone := cloneOption(o.clone, JSONClone[V])
	c := &ExistenceCache[V]{
		records: NewTTL[string, Lookup[V]](append(o.ttl, WithTTLClone(func(l Lookup[V]) Lookup[V] {
			if l.Exists {
				l.Data = clone(l.Data)
			}
			return l
		}))...),
		clone:  clone,
		logger: o.logger,
	}
	if o.coalesce {
		c.group = &singleflight.Group{}
	}
	return c
}

// GetOrFetch returns the memoized lookup for id, calling fetch only when no
// live record exists. A failed fetch is returned unchanged and leaves the
// cache untouched.
func (c *ExistenceCache[V]) GetOrFetch(ctx context.Context, id string, ttl time.Duration, fetch Fetcher[V]) (Lookup[V], error) {
	if ttl <= 0 {
		ttl = DefaultExistenceTTL
	}
	if rec, ok := c.records.Get(id, ttl); ok {
		return rec, nil
	}

	if c.group == nil {
		return c.fetch(ctx, id, fetch)
	}

	v, err, shared := c.group.Do(id, func() (interface{}, error) {
		return c.fetch(ctx, id, fetch)
	})
	if shared {
		c.logger.Debug("existence: shared in-flight fetch", "id", id)
	}
	if err != nil {
		return Lookup[V]{}, err
	}
	rec := v.(Lookup[V])
	if shared && rec.Exists {
		rec.Data = c.clone(rec.Data)
	}
	return rec, nil
}

func (c *ExistenceCache[V]) fetch(ctx context.Context, id string, fetch Fetcher[V]) (Lookup[V], error) {
	ctx, span := tracing.StartSpan(ctx, "existence.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", id))

	start := time.Now()
	rec, err := fetch(ctx, id)
	metrics.RemoteFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteFetches.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return Lookup[V]{}, err
	}

	if !rec.Exists {
		rec = Lookup[V]{}
		metrics.RemoteFetches.WithLabelValues("absent").Inc()
	} else {
		metrics.RemoteFetches.WithLabelValues("present").Inc()
	}
	span.SetAttributes(attribute.Bool("document.exists", rec.Exists))

	c.records.Set(id, rec)
	return rec, nil
}

// Invalidate drops the record for id.
func (c *ExistenceCache[V]) Invalidate(id string) {
	c.records.Invalidate(id)
}

// InvalidateAll drops every record.
func (c *ExistenceCache[V]) InvalidateAll() {
	c.records.Clear()
}

// Len returns the number of records held, expired ones included.
func (c *ExistenceCache[V]) Len() int {
	return c.records.Len()
}
