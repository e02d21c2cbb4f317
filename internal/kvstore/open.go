package kvstore

import (
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/circuitbreaker"
	"github.com/onnwee/matchcache/internal/config"
	"github.com/onnwee/matchcache/internal/secrets"
)

// Store is a PersistentStore that can report its size and be closed.
type Store interface {
	cache.PersistentStore
	Len() (int, error)
	Close() error
}

// Purger is implemented by stores that can drop expired items in bulk.
type Purger interface {
	Purge() (int64, error)
}

var (
	_ Purger = (*SQL)(nil)
	_ Purger = (*Breaker)(nil)

	_ Store = (*Memory)(nil)
	_ Store = (*Ristretto)(nil)
	_ Store = (*Redis)(nil)
	_ Store = (*SQL)(nil)
	_ Store = (*Breaker)(nil)
)

// Open builds the store selected by cfg.StoreBackend. Network backed stores
// are wrapped in a Breaker when cfg.StoreBreaker is set.
func Open(cfg *config.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		s      Store
		err    error
		remote bool
	)
	switch cfg.StoreBackend {
	case "", "memory":
		s = NewMemory(cfg.StoreQuotaBytes)
	case "ristretto":
		s, err = NewRistretto(megabytes(cfg.StoreQuotaBytes), cfg.StoreMaxEntries, cfg.SessionTTL)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis store: REDIS_ADDR is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s, err = NewRedis(RedisOpts{
			Client:        client,
			ClientCloser:  client,
			ClientTimeout: cfg.StoreTimeout,
			SessionTTL:    cfg.SessionTTL,
			Logger:        logger.With("store", "redis"),
		})
		remote = true
	case "sqlite":
		s, err = OpenSQLite(cfg.SQLitePath, SQLOpts{Timeout: cfg.StoreTimeout, SessionTTL: cfg.SessionTTL})
	case "postgres":
		s, err = OpenPostgres(cfg.DatabaseURL, SQLOpts{Timeout: cfg.StoreTimeout, SessionTTL: cfg.SessionTTL})
		remote = true
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	if remote && cfg.StoreBreaker {
		s = NewBreaker(s, circuitbreaker.Config{Name: "kvstore_" + cfg.StoreBackend})
	}
	logger.Info("persistent store ready", "backend", cfg.StoreBackend, "target", target(cfg), "breaker", remote && cfg.StoreBreaker)
	return s, nil
}

// target names where the store lives, credentials masked.
func target(cfg *config.Config) string {
	switch cfg.StoreBackend {
	case "redis":
		return cfg.RedisAddr
	case "sqlite":
		return cfg.SQLitePath
	case "postgres":
		return secrets.MaskDSN(cfg.DatabaseURL)
	default:
		return "memory"
	}
}

func megabytes(b int64) int64 {
	mb := b / (1024 * 1024)
	if mb < 1 {
		mb = 1
	}
	return mb
}
