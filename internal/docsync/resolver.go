// Package docsync decides, for a set of dated document references, which
// documents are refreshed from the remote store and which are served from
// cache.
//
// Only the newest document of a set may still change upstream, so it is the
// only one re-checked against the remote store (bounded by the existence
// TTL). Every other document is archival: it is fetched at most once and then
// served from the tiered cache.
package docsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/metrics"
	"github.com/onnwee/matchcache/internal/tracing"
)

// Source says where a resolved document came from.
type Source string

const (
	SourceCache  Source = "cache"  // tiered cache, no remote call
	SourceRemote Source = "remote" // remote store, possibly a memoized answer
	SourceStale  Source = "stale"  // refresh failed, cached copy served
	SourceAbsent Source = "absent" // remote store has no such document
)

// Resolved is one entry of a Resolve result.
type Resolved[V any] struct {
	Ref    cache.DocumentRef `json:"ref"`
	Exists bool              `json:"exists"`
	Data   V                 `json:"data"`
	Source Source            `json:"source"`
}

// DefaultArchiveAfterDays is the archive cutoff used when none is set.
const DefaultArchiveAfterDays = 7

// Options configures a Resolver.
type Options struct {
	// ExistenceTTL bounds how often the newest document is re-checked.
	ExistenceTTL time.Duration
	// ArchiveAfterDays: a newest document older than this is not refreshed.
	// Zero or less means DefaultArchiveAfterDays.
	ArchiveAfterDays int
	Now              func() time.Time
	Logger           *slog.Logger
}

// Resolver combines an ExistenceCache, a TieredCache and a remote fetcher.
type Resolver[V any] struct {
	docs      *cache.TieredCache[V]
	existence *cache.ExistenceCache[V]
	fetch     cache.Fetcher[V]

	ttl         time.Duration
	archiveDays int
	now         func() time.Time
	logger      *slog.Logger
}

// New builds a Resolver.
func New[V any](docs *cache.TieredCache[V], existence *cache.ExistenceCache[V], fetch cache.Fetcher[V], opts Options) *Resolver[V] {
	r := &Resolver[V]{
		docs:        docs,
		existence:   existence,
		fetch:       fetch,
		ttl:         opts.ExistenceTTL,
		archiveDays: opts.ArchiveAfterDays,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if r.ttl <= 0 {
		r.ttl = cache.DefaultExistenceTTL
	}
	if r.archiveDays <= 0 {
		r.archiveDays = DefaultArchiveAfterDays
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve returns one entry per ref, newest first. The newest ref is
// refreshed unless it is older than ArchiveAfterDays; the rest are read from
// cache and fetched only on a miss. A failed refresh falls back to the cached
// copy when there is one.
func (r *Resolver[V]) Resolve(ctx context.Context, refs []cache.DocumentRef) ([]Resolved[V], error) {
	ctx, span := tracing.StartSpan(ctx, "docsync.resolve")
	defer span.End()
	span.SetAttributes(attribute.Int("refs", len(refs)))

	sorted := cache.SortByDateDescending(refs)
	out := make([]Resolved[V], 0, len(sorted))
	now := r.now()
	for i, ref := range sorted {
		var (
			res Resolved[V]
			err error
		)
		if i == 0 && !cache.IsOlderThanThreshold(ref.Date, r.archiveDays, now) {
			res, err = r.refresh(ctx, ref)
		} else {
			res, err = r.archived(ctx, ref)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve failed")
			return nil, err
		}
		metrics.ResolverDocuments.WithLabelValues(string(res.Source)).Inc()
		out = append(out, res)
	}
	return out, nil
}

// Get resolves a single document as if it were the newest of its set.
func (r *Resolver[V]) Get(ctx context.Context, id string) (Resolved[V], error) {
	res, err := r.refresh(ctx, cache.DocumentRef{ID: id})
	if err != nil {
		return Resolved[V]{}, err
	}
	metrics.ResolverDocuments.WithLabelValues(string(res.Source)).Inc()
	return res, nil
}

// Reset drops the session: the memory tier and every remembered lookup.
// The persistent tier is left alone.
func (r *Resolver[V]) Reset() {
	r.docs.Clear()
	r.existence.InvalidateAll()
	r.logger.Info("docsync: session reset")
}

// Stats reports the number of entries held in memory.
type Stats struct {
	Documents int `json:"documents"`
	Lookups   int `json:"lookups"`
}

// Stats returns the current cache sizes.
func (r *Resolver[V]) Stats() Stats {
	return Stats{Documents: r.docs.Len(), Lookups: r.existence.Len()}
}

func (r *Resolver[V]) refresh(ctx context.Context, ref cache.DocumentRef) (Resolved[V], error) {
	lookup, err := r.existence.GetOrFetch(ctx, ref.ID, r.ttl, r.fetch)
	if err != nil {
		if v, ok := r.docs.Get(ref.ID); ok {
			r.logger.Warn("docsync: refresh failed, serving cached copy", "id", ref.ID, "error", err)
			return Resolved[V]{Ref: ref, Exists: true, Data: v, Source: SourceStale}, nil
		}
		return Resolved[V]{}, fmt.Errorf("refresh %s: %w", ref.ID, err)
	}
	if !lookup.Exists {
		// The document is gone upstream; a cached copy would be wrong now.
		r.docs.Invalidate(ref.ID)
		return Resolved[V]{Ref: ref, Source: SourceAbsent}, nil
	}
	r.docs.Set(ref.ID, lookup.Data)
	return Resolved[V]{Ref: ref, Exists: true, Data: lookup.Data, Source: SourceRemote}, nil
}

func (r *Resolver[V]) archived(ctx context.Context, ref cache.DocumentRef) (Resolved[V], error) {
	if v, ok := r.docs.Get(ref.ID); ok {
		return Resolved[V]{Ref: ref, Exists: true, Data: v, Source: SourceCache}, nil
	}
	lookup, err := r.existence.GetOrFetch(ctx, ref.ID, r.ttl, r.fetch)
	if err != nil {
		return Resolved[V]{}, fmt.Errorf("fetch %s: %w", ref.ID, err)
	}
	if !lookup.Exists {
		return Resolved[V]{Ref: ref, Source: SourceAbsent}, nil
	}
	r.docs.Set(ref.ID, lookup.Data)
	return Resolved[V]{Ref: ref, Exists: true, Data: lookup.Data, Source: SourceRemote}, nil
}
