package kvstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/dgraph-io/ristretto/z"

	"github.com/onnwee/matchcache/internal/cache"
)

// Ristretto is a size bounded in-process store backed by ristretto. Items
// expire after the session TTL. Admission is decided by ristretto, so a
// rejected write surfaces as ErrQuotaExceeded and an admitted item may still
// be evicted later under pressure.
type Ristretto struct {
	cache      *ristretto.Cache
	sessionTTL time.Duration

	mu       sync.Mutex
	resident map[uint64]uint64 // key hash -> conflict hash
}

// NewRistretto creates a store holding at most maxSizeMB megabytes and roughly
// maxEntries items. sessionTTL <= 0 keeps items until evicted.
func NewRistretto(maxSizeMB int64, maxEntries int64, sessionTTL time.Duration) (*Ristretto, error) {
	// NumCounters should be ~10x the number of entries for optimal performance
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}
	maxCost := maxSizeMB * 1024 * 1024
	if maxCost <= 0 {
		maxCost = 1024 * 1024
	}

	r := &Ristretto{sessionTTL: sessionTTL, resident: make(map[uint64]uint64)}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
		OnEvict:     func(item *ristretto.Item) { r.forget(item.Key, item.Conflict) },
		OnReject:    func(item *ristretto.Item) { r.forget(item.Key, item.Conflict) },
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	r.cache = c
	return r, nil
}

func (r *Ristretto) remember(key string) {
	k, c := z.KeyToHash(key)
	r.mu.Lock()
	r.resident[k] = c
	r.mu.Unlock()
}

func (r *Ristretto) forget(k, c uint64) {
	r.mu.Lock()
	if cur, ok := r.resident[k]; ok && cur == c {
		delete(r.resident, k)
	}
	r.mu.Unlock()
}

func (r *Ristretto) forgetKey(key string) {
	r.forget(z.KeyToHash(key))
}

func (r *Ristretto) GetItem(key string) (string, bool, error) {
	val, found := r.cache.Get(key)
	if !found {
		// expired items are only swept periodically
		r.forgetKey(key)
		return "", false, nil
	}
	s, ok := val.(string)
	if !ok {
		r.cache.Del(key)
		r.forgetKey(key)
		return "", false, nil
	}
	return s, true, nil
}

func (r *Ristretto) SetItem(key, value string) error {
	cost := int64(len(key) + len(value))

	// Recorded before Set so a rejection during Wait clears it again.
	r.remember(key)
	var ok bool
	if r.sessionTTL > 0 {
		ok = r.cache.SetWithTTL(key, value, cost, r.sessionTTL)
	} else {
		ok = r.cache.Set(key, value, cost)
	}
	if !ok {
		r.forgetKey(key)
		return fmt.Errorf("set %q (%d bytes): %w", key, cost, cache.ErrQuotaExceeded)
	}
	r.cache.Wait()
	return nil
}

func (r *Ristretto) RemoveItem(key string) error {
	r.cache.Del(key)
	r.forgetKey(key)
	return nil
}

// Len counts items written and not since removed, evicted, rejected or found
// expired. Expired items that were never read again are counted until
// ristretto sweeps them.
func (r *Ristretto) Len() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resident), nil
}

// Close releases ristretto's background goroutines.
func (r *Ristretto) Close() error {
	r.cache.Close()
	return nil
}
