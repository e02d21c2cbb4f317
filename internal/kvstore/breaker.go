package kvstore

import (
	"errors"
	"fmt"

	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/circuitbreaker"
)

// Breaker guards a store with a circuit breaker so a failing back-end is
// skipped instead of being waited on for every cache access. Quota errors
// are passed through without counting as failures.
type Breaker struct {
	next Store
	cb   *circuitbreaker.CircuitBreaker
}

// NewBreaker wraps next.
func NewBreaker(next Store, cfg circuitbreaker.Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "kvstore"
	}
	return &Breaker{next: next, cb: circuitbreaker.New(cfg)}
}

func (b *Breaker) call(fn func() error) error {
	var passthrough error
	err := b.cb.Call(func() error {
		err := fn()
		if errors.Is(err, cache.ErrQuotaExceeded) {
			passthrough = err
			return nil
		}
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", cache.ErrStoreUnavailable, err)
	}
	if err != nil {
		return err
	}
	return passthrough
}

func (b *Breaker) GetItem(key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := b.call(func() error {
		var err error
		v, ok, err = b.next.GetItem(key)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return v, ok, nil
}

func (b *Breaker) SetItem(key, value string) error {
	return b.call(func() error { return b.next.SetItem(key, value) })
}

func (b *Breaker) RemoveItem(key string) error {
	return b.call(func() error { return b.next.RemoveItem(key) })
}

func (b *Breaker) Len() (int, error) {
	return b.next.Len()
}

func (b *Breaker) Close() error {
	return b.next.Close()
}

// State exposes the breaker state.
func (b *Breaker) State() circuitbreaker.State {
	return b.cb.GetState()
}

// Purge forwards to the wrapped store when it supports purging.
func (b *Breaker) Purge() (int64, error) {
	p, ok := b.next.(Purger)
	if !ok {
		return 0, nil
	}
	var n int64
	err := b.call(func() error {
		var err error
		n, err = p.Purge()
		return err
	})
	return n, err
}
