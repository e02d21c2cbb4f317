package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/onnwee/matchcache/internal/cache"
)

// RedisOpts configures a Redis store.
type RedisOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when Redis.Close is called.
	// Optional.
	ClientCloser io.Closer

	// ClientTimeout bounds every read and write. Default is 50ms.
	ClientTimeout time.Duration

	// SessionTTL is applied to every key so that a session's data disappears
	// with it. Zero keeps keys until removed.
	SessionTTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (opts *RedisOpts) init() error {
	if opts.Client == nil {
		return errors.New("nil redis client")
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Redis stores items in a Redis database. After a failed command the store
// disables itself, answering ErrStoreUnavailable without touching the network
// until a background ping succeeds again.
type Redis struct {
	opts           RedisOpts
	clientDisabled uint32
	closed         chan struct{}
	closeOnce      atomic.Bool
}

// NewRedis creates a Redis store.
func NewRedis(opts RedisOpts) (*Redis, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	return &Redis{opts: opts, closed: make(chan struct{})}, nil
}

func (r *Redis) disabled() bool {
	return atomic.LoadUint32(&r.clientDisabled) != 0
}

func (r *Redis) disableClient() {
	if !atomic.CompareAndSwapUint32(&r.clientDisabled, 0, 1) {
		return
	}
	r.opts.Logger.Warn("redis temporarily disabled")
	go func() {
		const maxBackoff = time.Second * 30
		backoff := time.Millisecond * 100
		for {
			select {
			case <-r.closed:
				return
			case <-time.After(backoff):
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
			err := r.opts.Client.Ping(ctx).Err()
			cancel()
			if err != nil {
				if backoff >= maxBackoff {
					backoff = maxBackoff
				} else {
					backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
				}
				r.opts.Logger.Warn("redis ping failed", "error", err, "next_ping", backoff)
				continue
			}
			atomic.StoreUint32(&r.clientDisabled, 0)
			r.opts.Logger.Info("redis re-enabled")
			return
		}
	}()
}

func (r *Redis) GetItem(key string) (string, bool, error) {
	if r.disabled() {
		return "", false, cache.ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	v, err := r.opts.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		r.disableClient()
		return "", false, fmt.Errorf("redis get %q: %w: %v", key, cache.ErrStoreUnavailable, err)
	}
	return v, true, nil
}

func (r *Redis) SetItem(key, value string) error {
	if r.disabled() {
		return cache.ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Set(ctx, key, value, r.opts.SessionTTL).Err(); err != nil {
		if isOOM(err) {
			return fmt.Errorf("redis set %q: %w: %v", key, cache.ErrQuotaExceeded, err)
		}
		r.disableClient()
		return fmt.Errorf("redis set %q: %w: %v", key, cache.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *Redis) RemoveItem(key string) error {
	if r.disabled() {
		return cache.ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Del(ctx, key).Err(); err != nil {
		r.disableClient()
		return fmt.Errorf("redis del %q: %w: %v", key, cache.ErrStoreUnavailable, err)
	}
	return nil
}

// Len returns the size of the selected Redis database.
func (r *Redis) Len() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	n, err := r.opts.Client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis dbsize: %w", err)
	}
	return int(n), nil
}

// Close stops the reconnect loop and closes the client if a closer was given.
func (r *Redis) Close() error {
	if r.closeOnce.CompareAndSwap(false, true) {
		close(r.closed)
	}
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}

// isOOM reports a Redis "maxmemory" rejection.
func isOOM(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return strings.HasPrefix(rerr.Error(), "OOM")
	}
	return false
}
