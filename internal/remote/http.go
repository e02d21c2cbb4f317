package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/circuitbreaker"
	"github.com/onnwee/matchcache/internal/config"
	"github.com/onnwee/matchcache/internal/httpx"
	"github.com/onnwee/matchcache/internal/metrics"
)

// maxBodyBytes caps how much of a document response is read.
const maxBodyBytes = 4 << 20

// HTTPOpts configures an HTTPStore.
type HTTPOpts struct {
	// BaseURL is the service root; documents live at {BaseURL}/documents/{id}.
	BaseURL string
	// Client defaults to an http.Client with a 15s timeout.
	Client *http.Client
	Policy httpx.Policy
	// RPS <= 0 disables client-side rate limiting.
	RPS   float64
	Burst int
	// Breaker defaults to a breaker named "remote_documents".
	Breaker *circuitbreaker.CircuitBreaker
	Logger  *slog.Logger
}

// HTTPOptsFromConfig fills HTTPOpts from the loaded configuration.
func HTTPOptsFromConfig(cfg *config.Config) HTTPOpts {
	return HTTPOpts{
		BaseURL: cfg.RemoteBaseURL,
		Client:  &http.Client{Timeout: cfg.HTTPTimeout},
		Policy:  httpx.PolicyFromConfig(cfg),
		RPS:     cfg.RemoteRPS,
		Burst:   cfg.RemoteBurst,
	}
}

// HTTPStore reads JSON documents from a REST endpoint.
type HTTPStore[V any] struct {
	base    string
	client  *http.Client
	policy  httpx.Policy
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPStore validates opts and builds a store.
func NewHTTPStore[V any](opts HTTPOpts) (*HTTPStore[V], error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("remote: base URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("remote: invalid base URL: %w", err)
	}

	s := &HTTPStore[V]{
		base:    base,
		client:  opts.Client,
		policy:  opts.Policy,
		breaker: opts.Breaker,
		logger:  opts.Logger,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 15 * time.Second}
	}
	if s.breaker == nil {
		s.breaker = circuitbreaker.New(circuitbreaker.Config{Name: "remote_documents"})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.policy.Logger == nil {
		s.policy.Logger = s.logger
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
		s.policy.Pre = s.waitForRateLimit
	}
	return s, nil
}

func (s *HTTPStore[V]) waitForRateLimit(ctx context.Context, _ int) error {
	if s.limiter.Allow() {
		return nil
	}
	metrics.RemoteRateLimitWaits.Inc()
	return s.limiter.Wait(ctx)
}

// GetByID fetches one document. 200 means present, 404 means absent and every
// other outcome is an error wrapping ErrTransient, except a body that does not
// decode into V.
func (s *HTTPStore[V]) GetByID(ctx context.Context, id string) (cache.Lookup[V], error) {
	var (
		out      cache.Lookup[V]
		fetchErr error
	)
	// Cancellation and undecodable bodies are reported to the caller without
	// counting against the breaker.
	err := s.breaker.Call(func() error {
		out, fetchErr = s.get(ctx, id)
		if fetchErr != nil && errors.Is(fetchErr, ErrTransient) && ctx.Err() == nil {
			return fetchErr
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return cache.Lookup[V]{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if fetchErr != nil {
		return cache.Lookup[V]{}, fetchErr
	}
	return out, nil
}

func (s *HTTPStore[V]) get(ctx context.Context, id string) (cache.Lookup[V], error) {
	target := s.base + "/documents/" + url.PathEscape(id)
	resp, err := httpx.Do(ctx, s.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, s.policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cache.Lookup[V]{}, ctxErr
		}
		return cache.Lookup[V]{}, fmt.Errorf("%w: get %s: %w", ErrTransient, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var v V
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&v); err != nil {
			s.logger.Warn("remote: undecodable document", "id", id, "error", err)
			return cache.Lookup[V]{}, fmt.Errorf("remote: decode %s: %w", id, err)
		}
		return cache.Lookup[V]{Exists: true, Data: v}, nil
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return cache.Lookup[V]{}, nil
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return cache.Lookup[V]{}, fmt.Errorf("%w: get %s: status %d", ErrTransient, id, resp.StatusCode)
	}
}

// BreakerState reports the state of the store's circuit breaker.
func (s *HTTPStore[V]) BreakerState() circuitbreaker.State {
	return s.breaker.GetState()
}
