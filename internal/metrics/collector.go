package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SizeFunc reports the current number of items held by a cache or store.
type SizeFunc func() (int, error)

// Collector periodically samples cache sizes into Prometheus gauges
type Collector struct {
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	sources map[string]SizeFunc
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Collector{
		interval: interval,
		stop:     make(chan struct{}),
		sources:  make(map[string]SizeFunc),
	}
}

// Register adds a named size source. Registering the same name twice replaces
// the previous source.
func (c *Collector) Register(name string, fn SizeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = fn
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect initial metrics
	c.Collect()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Collect samples every registered source once.
func (c *Collector) Collect() {
	c.mu.Lock()
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sources := make(map[string]SizeFunc, len(c.sources))
	for k, v := range c.sources {
		sources[k] = v
	}
	c.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		n, err := sources[name]()
		if err != nil {
			slog.Warn("metrics: size collection failed", "cache", name, "error", err)
			MetricsCollectionErrors.WithLabelValues(name).Inc()
			CacheItems.WithLabelValues(name).Set(-1) // Signal stale data
			continue
		}
		CacheItems.WithLabelValues(name).Set(float64(n))
	}
}
