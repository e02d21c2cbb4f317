package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/config"
	"github.com/onnwee/matchcache/internal/secrets"
)

func testConfig(t *testing.T, base string) *config.Config {
	return &config.Config{
		CacheTTL:         time.Minute,
		ExistenceTTL:     time.Minute,
		ArchiveAfterDays: 7,
		CacheKeyPrefix:   "match_cache_",
		StoreBackend:     "sqlite",
		SQLitePath:       filepath.Join(t.TempDir(), "session.db"),
		RemoteBaseURL:    base,
		HTTPMaxRetries:   1,
		HTTPTimeout:      time.Second,
		PurgeSchedule:    "@hourly",
	}
}

func TestNew_EndToEnd(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/documents/m1":
			fmt.Fprint(w, `{"id":"m1","date":"2024-05-03"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	cfg := testConfig(t, ts.URL)
	a, err := New(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := a.Resolver.Get(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.JSONEq(t, `{"id":"m1","date":"2024-05-03"}`, string(res.Data))

	res, err = a.Resolver.Get(ctx, "m404")
	require.NoError(t, err)
	assert.False(t, res.Exists)
	require.NoError(t, a.Close())

	// A new session over the same sqlite file sees the persisted document.
	b, err := New(cfg, nil)
	require.NoError(t, err)
	defer b.Close()

	v, ok := b.Documents.Get("m1")
	require.True(t, ok)
	var doc map[string]string
	require.NoError(t, json.Unmarshal(v, &doc))
	assert.Equal(t, "m1", doc["id"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestNew_RequiresSettings(t *testing.T) {
	_, err := New(&config.Config{StoreBackend: "postgres"}, nil)
	var verr *secrets.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"DATABASE_URL", "REMOTE_BASE_URL"}, verr.Missing)
}

func TestNewWithRemote_PurgeTask(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	a, err := NewWithRemote(cfg, fixedStore{}, nil)
	require.NoError(t, err)
	defer a.Close()

	// sqlite gets a purge task; running it against an empty store is a no-op
	a.Tasks.RunAll(context.Background())

	cfg = testConfig(t, "http://unused.invalid")
	cfg.PurgeSchedule = "@sometimes"
	_, err = NewWithRemote(cfg, fixedStore{}, nil)
	require.Error(t, err)
}

func TestStartBackground_StopsOnClose(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	cfg.MetricsInterval = time.Hour
	a, err := NewWithRemote(cfg, fixedStore{}, nil)
	require.NoError(t, err)

	a.StartBackground(context.Background())
	require.NoError(t, a.Close())
}

func TestNewWithRemote_BadStore(t *testing.T) {
	cfg := &config.Config{StoreBackend: "floppy"}
	_, err := NewWithRemote(cfg, nil, nil)
	require.Error(t, err)
}

func TestHandler(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	cfg.StoreBackend = "memory"
	a, err := NewWithRemote(cfg, fixedStore{}, nil)
	require.NoError(t, err)
	defer a.Close()

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/documents/m1", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	a.Collector.Collect()
}

type fixedStore struct{}

func (fixedStore) GetByID(ctx context.Context, id string) (cache.Lookup[Document], error) {
	return cache.Lookup[Document]{Exists: true, Data: Document(`{"id":"` + id + `"}`)}, nil
}

func TestNewWithRemote_DocumentsAreCopied(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	cfg.StoreBackend = "memory"
	a, err := NewWithRemote(cfg, fixedStore{}, nil)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Resolver.Get(context.Background(), "m1")
	require.NoError(t, err)
	res.Data[2] = 'X'

	v, ok := a.Documents.Get("m1")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"m1"}`, string(v))
}
