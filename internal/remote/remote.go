// Package remote provides the authoritative document sources the caches sit
// in front of.
package remote

import (
	"context"
	"errors"

	"github.com/onnwee/matchcache/internal/cache"
)

// ErrTransient marks failures worth retrying later: transport errors,
// throttling, 5xx responses and an open circuit. A missing document is not
// an error.
var ErrTransient = errors.New("remote: transient failure")

// DocumentStore looks documents up by id. A missing document is reported as
// Lookup{Exists: false} with a nil error.
type DocumentStore[V any] interface {
	GetByID(ctx context.Context, id string) (cache.Lookup[V], error)
}

// Func adapts a plain function to DocumentStore.
type Func[V any] func(ctx context.Context, id string) (cache.Lookup[V], error)

// GetByID calls f.
func (f Func[V]) GetByID(ctx context.Context, id string) (cache.Lookup[V], error) {
	return f(ctx, id)
}

// Fetcher returns ds as a cache.Fetcher.
func Fetcher[V any](ds DocumentStore[V]) cache.Fetcher[V] {
	return ds.GetByID
}
