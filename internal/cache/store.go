package cache

import "errors"

var (
	// ErrQuotaExceeded is returned by a PersistentStore that has no room left.
	ErrQuotaExceeded = errors.New("persistent store quota exceeded")

	// ErrStoreUnavailable is returned by a PersistentStore that cannot be reached.
	ErrStoreUnavailable = errors.New("persistent store unavailable")
)

// PersistentStore is a string keyed store whose contents outlive a process
// restart but not the session that created them. Values are UTF-8 JSON.
type PersistentStore interface {
	// GetItem returns the value stored under key. ok is false when the key
	// is absent; err is only set when the store could not answer.
	GetItem(key string) (value string, ok bool, err error)

	// SetItem stores value under key. Implementations return an error
	// wrapping ErrQuotaExceeded or ErrStoreUnavailable where applicable.
	SetItem(key, value string) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(key string) error
}
