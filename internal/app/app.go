// Package app wires configuration, stores and caches into the services the
// server and the CLI share.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/onnwee/matchcache/internal/api"
	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/config"
	"github.com/onnwee/matchcache/internal/docsync"
	"github.com/onnwee/matchcache/internal/kvstore"
	"github.com/onnwee/matchcache/internal/metrics"
	"github.com/onnwee/matchcache/internal/remote"
	"github.com/onnwee/matchcache/internal/scheduler"
	"github.com/onnwee/matchcache/internal/secrets"
)

// Document is an opaque JSON document.
type Document = json.RawMessage

func cloneDocument(d Document) Document { return bytes.Clone(d) }

// App holds one cache session.
type App struct {
	Config    *config.Config
	Store     kvstore.Store
	Documents *cache.TieredCache[Document]
	Lookups   *cache.ExistenceCache[Document]
	Remote    remote.DocumentStore[Document]
	Resolver  *docsync.Resolver[Document]
	Collector *metrics.Collector
	Tasks     *scheduler.Runner

	logger *slog.Logger
}

// New builds an App against the HTTP document store at cfg.RemoteBaseURL.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := secrets.ValidateRequired(required(cfg)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := remote.HTTPOptsFromConfig(cfg)
	opts.Logger = logger.With("component", "remote")
	rs, err := remote.NewHTTPStore[Document](opts)
	if err != nil {
		return nil, err
	}
	return NewWithRemote(cfg, rs, logger)
}

// NewWithRemote builds an App on top of an arbitrary document store.
func NewWithRemote(cfg *config.Config, rs remote.DocumentStore[Document], logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := kvstore.Open(cfg, logger.With("component", "kvstore"))
	if err != nil {
		return nil, err
	}

	docs := cache.NewTiered[Document](store,
		cache.WithKeyPrefix(cfg.CacheKeyPrefix),
		cache.WithTieredLogger(logger.With("component", "tiered")),
		cache.WithTieredClone(cloneDocument),
	)
	existenceOpts := []cache.ExistenceOption{
		cache.WithExistenceMetrics("existence"),
		cache.WithExistenceLogger(logger.With("component", "existence")),
		cache.WithExistenceClone(cloneDocument),
	}
	if cfg.CoalesceFetches {
		existenceOpts = append(existenceOpts, cache.WithCoalescing())
	}
	lookups := cache.NewExistence[Document](existenceOpts...)

	a := &App{
		Config:    cfg,
		Store:     store,
		Documents: docs,
		Lookups:   lookups,
		Remote:    rs,
		Resolver: docsync.New(docs, lookups, remote.Fetcher(rs), docsync.Options{
			ExistenceTTL:     cfg.ExistenceTTL,
			ArchiveAfterDays: cfg.ArchiveAfterDays,
			Logger:           logger.With("component", "docsync"),
		}),
		Collector: metrics.NewCollector(cfg.MetricsInterval),
		logger:    logger,
	}
	a.Collector.Register("documents", func() (int, error) { return docs.Len(), nil })
	a.Collector.Register("lookups", func() (int, error) { return lookups.Len(), nil })
	a.Collector.Register("persistent", store.Len)

	tasks, err := a.tasks()
	if err != nil {
		store.Close()
		return nil, err
	}
	a.Tasks = scheduler.NewRunner(logger, tasks...)
	return a, nil
}

// required lists the settings the configured backends cannot run without.
func required(cfg *config.Config) map[string]string {
	settings := map[string]string{"REMOTE_BASE_URL": cfg.RemoteBaseURL}
	switch cfg.StoreBackend {
	case "redis":
		settings["REDIS_ADDR"] = cfg.RedisAddr
	case "sqlite":
		settings["SQLITE_PATH"] = cfg.SQLitePath
	case "postgres":
		settings["DATABASE_URL"] = cfg.DatabaseURL
	}
	return settings
}

// tasks returns the housekeeping the persistent store needs. Only stores
// that keep expired rows around get a purge task.
func (a *App) tasks() ([]scheduler.Task, error) {
	p, ok := a.Store.(kvstore.Purger)
	if !ok || a.Config.StoreBackend == "redis" {
		return nil, nil
	}
	sched, err := scheduler.Parse(a.Config.PurgeSchedule)
	if err != nil {
		return nil, fmt.Errorf("STORE_PURGE_SCHEDULE: %w", err)
	}
	return []scheduler.Task{{
		Name:     "purge_expired",
		Schedule: sched,
		Run: func(ctx context.Context) error {
			n, err := p.Purge()
			if err != nil {
				return err
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "purged expired items", "count", n)
			}
			return nil
		},
	}}, nil
}

// Handler returns the HTTP API for this session.
func (a *App) Handler() http.Handler {
	return api.NewHandler(api.Deps{Resolver: a.Resolver, Persistent: a.Store.Len})
}

// StartBackground samples cache sizes and runs store housekeeping until ctx
// is done or Close is called.
func (a *App) StartBackground(ctx context.Context) {
	go a.Collector.Start(ctx)
	go a.Tasks.Start(ctx)
}

// Close stops background work and releases the persistent store.
func (a *App) Close() error {
	a.Collector.Stop()
	a.Tasks.Stop()
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
