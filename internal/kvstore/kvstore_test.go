package kvstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/circuitbreaker"
	"github.com/onnwee/matchcache/internal/config"
)

// exerciseStore runs the behaviour every back-end must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	_, ok, err := s.GetItem("match_cache_absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetItem("match_cache_m1", `{"id":"m1","date":"2024-01-01"}`))
	v, ok, err := s.GetItem("match_cache_m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"m1","date":"2024-01-01"}`, v)

	require.NoError(t, s.SetItem("match_cache_m1", `{"id":"m1","date":"2024-01-02"}`))
	v, ok, err = s.GetItem("match_cache_m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"m1","date":"2024-01-02"}`, v)

	require.NoError(t, s.SetItem("match_cache_ünïcødé", `"¡olé!"`))
	v, ok, err = s.GetItem("match_cache_ünïcødé")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"¡olé!"`, v)

	require.NoError(t, s.RemoveItem("match_cache_m1"))
	_, ok, err = s.GetItem("match_cache_m1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RemoveItem("match_cache_never_written"))
}

func TestMemory(t *testing.T) {
	s := NewMemory(0)
	exerciseStore(t, s)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemory_Quota(t *testing.T) {
	s := NewMemory(20)

	require.NoError(t, s.SetItem("k1", "0123456789")) // 12 bytes
	err := s.SetItem("k2", "0123456789")
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrQuotaExceeded)

	// Overwriting an existing key only counts the difference.
	require.NoError(t, s.SetItem("k1", "012345678901234567"))
	assert.Equal(t, int64(20), s.Used())

	require.NoError(t, s.RemoveItem("k1"))
	assert.Equal(t, int64(0), s.Used())
	require.NoError(t, s.SetItem("k2", "0123456789"))
}

func TestRistretto(t *testing.T) {
	s, err := NewRistretto(1, 100, time.Minute)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestRistretto_OversizedItemIsRejected(t *testing.T) {
	s, err := NewRistretto(1, 100, 0)
	require.NoError(t, err)
	defer s.Close()

	big := make([]byte, 2*1024*1024)
	for i := range big {
		big[i] = 'x'
	}
	err = s.SetItem("big", string(big))
	if err != nil {
		assert.ErrorIs(t, err, cache.ErrQuotaExceeded)
	}
	_, ok, err := s.GetItem("big")
	require.NoError(t, err)
	assert.False(t, ok, "an item larger than the store must not be resident")
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := OpenSQLite(path, SQLOpts{})
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := OpenSQLite(path, SQLOpts{})
	require.NoError(t, err)
	require.NoError(t, s.SetItem("match_cache_m1", `{"id":"m1"}`))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, SQLOpts{})
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.GetItem("match_cache_m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"id":"m1"}`, v)
}

func TestSQLite_SessionTTL(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "session.db"), SQLOpts{SessionTTL: time.Hour})
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.SetItem("old", "1"))
	now = now.Add(2 * time.Hour)
	require.NoError(t, s.SetItem("new", "2"))

	_, ok, err := s.GetItem("old")
	require.NoError(t, err)
	assert.False(t, ok, "rows from an expired session must be invisible")

	removed, err := s.Purge()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	v, ok, err := s.GetItem("new")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ", SQLOpts{})
	require.Error(t, err)
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := OpenPostgres(url, SQLOpts{})
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
	require.NoError(t, s.RemoveItem("match_cache_ünïcødé"))
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	s, err := NewRedis(RedisOpts{Client: client, ClientCloser: client, ClientTimeout: time.Second, SessionTTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
	require.NoError(t, s.RemoveItem("match_cache_ünïcødé"))
}

func TestRedis_DisablesOnFailure(t *testing.T) {
	// Nothing listens on this port; the first command fails and the store
	// answers ErrStoreUnavailable from then on without dialing.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	s, err := NewRedis(RedisOpts{Client: client, ClientCloser: client})
	require.NoError(t, err)
	defer s.Close()

	err = s.SetItem("k", "v")
	require.ErrorIs(t, err, cache.ErrStoreUnavailable)
	assert.True(t, s.disabled())

	_, _, err = s.GetItem("k")
	assert.ErrorIs(t, err, cache.ErrStoreUnavailable)
}

func TestNewRedis_RequiresClient(t *testing.T) {
	_, err := NewRedis(RedisOpts{})
	require.Error(t, err)
}

// flakyStore fails every call with err until healed.
type flakyStore struct {
	*Memory
	err   error
	calls int
}

func (f *flakyStore) GetItem(key string) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	return f.Memory.GetItem(key)
}

func (f *flakyStore) SetItem(key, value string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return f.Memory.SetItem(key, value)
}

func TestBreaker_OpensAndShortCircuits(t *testing.T) {
	inner := &flakyStore{Memory: NewMemory(0), err: errors.New("connection refused")}
	b := NewBreaker(inner, circuitbreaker.Config{Name: "test_store", FailureThreshold: 2, Timeout: time.Hour})

	for i := 0; i < 2; i++ {
		require.Error(t, b.SetItem("k", "v"))
	}
	assert.Equal(t, circuitbreaker.StateOpen, b.State())

	calls := inner.calls
	_, _, err := b.GetItem("k")
	require.ErrorIs(t, err, cache.ErrStoreUnavailable)
	assert.Equal(t, calls, inner.calls, "open breaker must not reach the store")
}

func TestBreaker_QuotaDoesNotTrip(t *testing.T) {
	inner := &flakyStore{Memory: NewMemory(0), err: cache.ErrQuotaExceeded}
	b := NewBreaker(inner, circuitbreaker.Config{Name: "test_quota", FailureThreshold: 1, Timeout: time.Hour})

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.SetItem("k", "v"), cache.ErrQuotaExceeded)
	}
	assert.Equal(t, circuitbreaker.StateClosed, b.State())

	inner.err = nil
	exerciseStore(t, b)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"memory", config.Config{StoreBackend: "memory"}, false},
		{"default", config.Config{}, false},
		{"ristretto", config.Config{StoreBackend: "ristretto", StoreQuotaBytes: 1 << 20, StoreMaxEntries: 10}, false},
		{"sqlite", config.Config{StoreBackend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "s.db")}, false},
		{"sqlite without path", config.Config{StoreBackend: "sqlite"}, true},
		{"redis without addr", config.Config{StoreBackend: "redis"}, true},
		{"unknown", config.Config{StoreBackend: "floppy"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			s, err := Open(&cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			exerciseStore(t, s)
		})
	}
}

func TestBreaker_Purge(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "session.db"), SQLOpts{SessionTTL: time.Hour})
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	require.NoError(t, s.SetItem("old", "1"))
	now = now.Add(2 * time.Hour)

	b := NewBreaker(s, circuitbreaker.Config{Name: "test_purge"})
	n, err := b.Purge()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// stores without purge support report nothing removed
	n, err = NewBreaker(NewMemory(0), circuitbreaker.Config{Name: "test_purge_mem"}).Purge()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTarget_MasksCredentials(t *testing.T) {
	got := target(&config.Config{StoreBackend: "postgres", DatabaseURL: "postgres://app:hunter2@db:5432/cache"})
	assert.NotContains(t, got, "hunter2")
	assert.Contains(t, got, "db:5432")
}

func TestRistretto_LenTracksRemovalAndExpiry(t *testing.T) {
	s, err := NewRistretto(1, 100, 20*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.SetItem(k, `"v"`))
	}
	require.NoError(t, s.SetItem("a", `"v2"`))
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, s.RemoveItem("b"))
	n, _ = s.Len()
	assert.Equal(t, 2, n)

	time.Sleep(50 * time.Millisecond)
	for _, k := range []string{"a", "c"} {
		_, ok, err := s.GetItem(k)
		require.NoError(t, err)
		assert.False(t, ok, "%s should have expired", k)
	}
	n, _ = s.Len()
	assert.Zero(t, n)
}
