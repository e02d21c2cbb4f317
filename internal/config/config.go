package config

import (
	"os"
	"strings"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	// Cache policy
	CacheTTL         time.Duration // freshness window for TTL caches
	ExistenceTTL     time.Duration // how long a remote lookup answer is reused
	ArchiveAfterDays int           // documents older than this are never refreshed
	CacheKeyPrefix   string        // namespace for persistent tier keys
	CoalesceFetches  bool          // share in-flight remote lookups for the same id
	// Persistent tier
	StoreBackend    string // memory, ristretto, redis, sqlite, postgres
	StoreQuotaBytes int64
	StoreMaxEntries int64
	SessionTTL      time.Duration // lifetime of persisted items
	StoreTimeout    time.Duration
	StoreBreaker    bool   // guard remote stores with a circuit breaker
	PurgeSchedule   string // when expired rows are dropped from SQL stores
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	SQLitePath      string
	DatabaseURL     string
	// Remote document store
	RemoteBaseURL  string
	RemoteRPS      float64
	RemoteBurst    int
	HTTPMaxRetries int
	HTTPRetryBase  time.Duration
	HTTPTimeout    time.Duration
	LogHTTPRetries bool
	// Server
	ListenAddr      string
	MetricsInterval time.Duration
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	LogFormat         string  // text or json
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
	SentrySampleRate  float64 // Sentry error sampling rate (0.0 to 1.0)
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	cached = &Config{
		CacheTTL:         envMillis("CACHE_TTL_MS", 5*time.Minute),
		ExistenceTTL:     envMillis("EXISTENCE_TTL_MS", 10*time.Minute),
		ArchiveAfterDays: envInt("ARCHIVE_AFTER_DAYS", 7),
		CacheKeyPrefix:   os.Getenv("CACHE_KEY_PREFIX"),
		CoalesceFetches:  envBool("CACHE_COALESCE", false),
		StoreBackend:     strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))),
		StoreQuotaBytes:  int64(envInt("STORE_QUOTA_BYTES", 5*1024*1024)),
		StoreMaxEntries:  int64(envInt("STORE_MAX_ENTRIES", 10000)),
		SessionTTL:       envMillis("SESSION_TTL_MS", 12*time.Hour),
		StoreTimeout:     envMillis("STORE_TIMEOUT_MS", 250*time.Millisecond),
		StoreBreaker:     envBool("STORE_BREAKER", true),
		PurgeSchedule:    strings.TrimSpace(os.Getenv("STORE_PURGE_SCHEDULE")),
		RedisAddr:        strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          envInt("REDIS_DB", 0),
		SQLitePath:       strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RemoteBaseURL:    strings.TrimRight(strings.TrimSpace(os.Getenv("REMOTE_BASE_URL")), "/"),
		RemoteRPS:        envFloat("REMOTE_RPS", 20),
		RemoteBurst:      envInt("REMOTE_BURST", 5),
		HTTPMaxRetries:   envInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryBase:    envMillis("HTTP_RETRY_BASE_MS", 300*time.Millisecond),
		HTTPTimeout:      envMillis("HTTP_TIMEOUT_MS", 15*time.Second),
		LogHTTPRetries:   envBool("LOG_HTTP_RETRIES", false),
		ListenAddr:       strings.TrimSpace(os.Getenv("LISTEN_ADDR")),
		MetricsInterval:  envMillis("METRICS_INTERVAL_MS", 30*time.Second),
		// Observability settings
		LogLevel:          strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		LogFormat:         strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
		OTELEnabled:       envBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    envFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		SentrySampleRate:  envFloat("SENTRY_SAMPLE_RATE", 1.0),
	}
	if cached.CacheKeyPrefix == "" {
		cached.CacheKeyPrefix = "match_cache_"
	}
	if cached.StoreBackend == "" {
		cached.StoreBackend = "memory"
	}
	if cached.PurgeSchedule == "" {
		cached.PurgeSchedule = "@hourly"
	}
	if cached.ListenAddr == "" {
		cached.ListenAddr = ":8000"
	}
	if cached.LogLevel == "" {
		cached.LogLevel = "info"
	}
	if cached.LogFormat == "" {
		// JSON in production, text elsewhere
		if os.Getenv("ENV") == "production" {
			cached.LogFormat = "json"
		} else {
			cached.LogFormat = "text"
		}
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }
