package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/circuitbreaker"
	"github.com/onnwee/matchcache/internal/httpx"
)

type match struct {
	ID    string `json:"id"`
	Date  string `json:"date"`
	Score string `json:"score"`
}

func newTestStore(t *testing.T, h http.HandlerFunc, breaker *circuitbreaker.CircuitBreaker) (*HTTPStore[match], *int32) {
	t.Helper()
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h(w, r)
	}))
	t.Cleanup(ts.Close)

	s, err := NewHTTPStore[match](HTTPOpts{
		BaseURL: ts.URL + "/",
		Client:  ts.Client(),
		Policy:  httpx.Policy{MaxAttempts: 1},
		Breaker: breaker,
	})
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	return s, &hits
}

func TestHTTPStore_Present(t *testing.T) {
	s, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/documents/m1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"m1","date":"2024-05-01","score":"2-1"}`)
	}, nil)

	got, err := s.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	want := cache.Lookup[match]{Exists: true, Data: match{ID: "m1", Date: "2024-05-01", Score: "2-1"}}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestHTTPStore_NotFoundIsAbsence(t *testing.T) {
	s, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}, nil)

	got, err := s.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("absence must not be an error: %v", err)
	}
	if got.Exists || got.Data != (match{}) {
		t.Errorf("got %+v, want absent with zero data", got)
	}
}

func TestHTTPStore_EscapesID(t *testing.T) {
	s, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/documents/a%2Fb%20c" {
			t.Errorf("unexpected escaped path %s", r.URL.EscapedPath())
		}
		http.NotFound(w, r)
	}, nil)

	if _, err := s.GetByID(context.Background(), "a/b c"); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
}

func TestHTTPStore_ServerErrorIsTransient(t *testing.T) {
	s, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, nil)

	_, err := s.GetByID(context.Background(), "m1")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestHTTPStore_UndecodableBodyIsNotTransient(t *testing.T) {
	s, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":`)
	}, nil)

	_, err := s.GetByID(context.Background(), "m1")
	if err == nil || errors.Is(err, ErrTransient) {
		t.Fatalf("expected a non-transient decode error, got %v", err)
	}
	if s.BreakerState() != circuitbreaker.StateClosed {
		t.Error("decode failures must not trip the breaker")
	}
}

func TestHTTPStore_BreakerOpensAndShortCircuits(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "remote_test", FailureThreshold: 2, Timeout: time.Hour})
	s, hits := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, cb)

	for i := 0; i < 2; i++ {
		if _, err := s.GetByID(context.Background(), "m1"); !errors.Is(err, ErrTransient) {
			t.Fatalf("attempt %d: expected ErrTransient, got %v", i, err)
		}
	}
	if s.BreakerState() != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", s.BreakerState())
	}

	before := atomic.LoadInt32(hits)
	_, err := s.GetByID(context.Background(), "m1")
	if !errors.Is(err, ErrTransient) || !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected transient open-circuit error, got %v", err)
	}
	if atomic.LoadInt32(hits) != before {
		t.Error("open breaker must not reach the server")
	}
}

func TestHTTPStore_CanceledContextDoesNotTrip(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "remote_cancel", FailureThreshold: 1, Timeout: time.Hour})
	s, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, cb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetByID(ctx, "m1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.BreakerState() != circuitbreaker.StateClosed {
		t.Error("cancellation must not trip the breaker")
	}
}

func TestHTTPStore_RateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	s, err := NewHTTPStore[match](HTTPOpts{BaseURL: ts.URL, Client: ts.Client(), RPS: 0.001, Burst: 1})
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	if _, err := s.GetByID(context.Background(), "a"); err != nil {
		t.Fatalf("first call uses the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.GetByID(ctx, "b"); err == nil {
		t.Fatal("expected the limiter to block until the deadline")
	}
}

func TestNewHTTPStore_Validation(t *testing.T) {
	for _, base := range []string{"", "   ", "not a url"} {
		if _, err := NewHTTPStore[match](HTTPOpts{BaseURL: base}); err == nil {
			t.Errorf("NewHTTPStore(%q): expected error", base)
		}
	}
}

func TestFunc(t *testing.T) {
	var ds DocumentStore[match] = Func[match](func(ctx context.Context, id string) (cache.Lookup[match], error) {
		if id == "m1" {
			return cache.Lookup[match]{Exists: true, Data: match{ID: id}}, nil
		}
		return cache.Lookup[match]{}, nil
	})

	fetch := Fetcher(ds)
	got, err := fetch(context.Background(), "m1")
	if err != nil || !got.Exists || got.Data.ID != "m1" {
		t.Errorf("got %+v, %v", got, err)
	}
	got, err = fetch(context.Background(), "m2")
	if err != nil || got.Exists {
		t.Errorf("got %+v, %v", got, err)
	}
}
