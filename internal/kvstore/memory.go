// Package kvstore provides the session scoped key-value substrates the
// tiered document cache mirrors into.
package kvstore

import (
	"fmt"
	"sync"

	"github.com/onnwee/matchcache/internal/cache"
)

// Memory is a map backed store with an optional byte quota. It stands in for
// browser session storage: it lives exactly as long as the process.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]string
	used  int64
	quota int64 // 0 = unlimited
}

// NewMemory creates a Memory store. quotaBytes <= 0 disables the quota.
func NewMemory(quotaBytes int64) *Memory {
	if quotaBytes < 0 {
		quotaBytes = 0
	}
	return &Memory{data: make(map[string]string), quota: quotaBytes}
}

func (m *Memory) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used + itemSize(key, value)
	if old, ok := m.data[key]; ok {
		next -= itemSize(key, old)
	}
	if m.quota > 0 && next > m.quota {
		return fmt.Errorf("set %q (%d of %d bytes): %w", key, next, m.quota, cache.ErrQuotaExceeded)
	}
	m.data[key] = value
	m.used = next
	return nil
}

func (m *Memory) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.used -= itemSize(key, old)
		delete(m.data, key)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data), nil
}

// Used returns the number of bytes counted against the quota.
func (m *Memory) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *Memory) Close() error { return nil }

func itemSize(key, value string) int64 {
	return int64(len(key) + len(value))
}
