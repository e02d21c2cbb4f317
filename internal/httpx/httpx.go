package httpx

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/matchcache/internal/config"
	"github.com/onnwee/matchcache/internal/metrics"
)

// ErrExhausted is returned when every attempt failed at the transport level.
var ErrExhausted = errors.New("exhausted retries")

// PreAttempt lets callers run logic (e.g., rate limiting) before each try; return context error to abort.
type PreAttempt func(ctx context.Context, attempt int) error

// AttemptInfo describes a single attempt outcome.
type AttemptInfo struct {
	Attempt int
	Method  string
	URL     string
	Status  int
	Err     error
	Wait    time.Duration
}

// Observer callback to report attempt telemetry.
type Observer func(info AttemptInfo)

// Policy controls retries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	LogRetries  bool
	Pre         PreAttempt
	Observer    Observer
	Logger      *slog.Logger
}

// PolicyFromConfig builds a Policy from the loaded configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts: cfg.HTTPMaxRetries,
		BaseDelay:   cfg.HTTPRetryBase,
		LogRetries:  cfg.LogHTTPRetries,
	}
}

func (p Policy) observe(info AttemptInfo) {
	if p.Observer != nil {
		p.Observer(info)
	}
}

func (p Policy) logf(msg string, args ...any) {
	if !p.LogRetries {
		return
	}
	l := p.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info(msg, args...)
}

// Do sends the request produced by build, retrying transport errors, 429 and
// 5xx responses with linear backoff and jitter. Retry-After is honoured.
// After the last attempt a 429/5xx response is returned as is.
func Do(ctx context.Context, client *http.Client, build func(ctx context.Context) (*http.Request, error), p Policy) (*http.Response, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if p.Pre != nil {
			if err := p.Pre(ctx, attempt); err != nil {
				return nil, err
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		info := AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String()}

		resp, err := client.Do(req)
		if err != nil {
			// Network or transport error
			metrics.RemoteHTTPRequests.WithLabelValues("error").Inc()
			info.Err = err
			if attempt == maxAttempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.logf("httpx: giving up", "attempt", attempt, "method", info.Method, "url", info.URL, "error", err)
				p.observe(info)
				return nil, err
			}
			metrics.RemoteHTTPRetries.Inc()
			p.observe(info)
		} else {
			info.Status = resp.StatusCode
			// success unless 429/5xx
			if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
				metrics.RemoteHTTPRequests.WithLabelValues("success").Inc()
				if attempt > 1 {
					p.logf("httpx: success after retry", "attempt", attempt, "method", info.Method, "url", info.URL, "status", resp.StatusCode)
				}
				p.observe(info)
				return resp, nil
			}
			metrics.RemoteHTTPRequests.WithLabelValues("retry").Inc()
			if attempt == maxAttempts {
				p.logf("httpx: giving up", "attempt", attempt, "method", info.Method, "url", info.URL, "status", resp.StatusCode)
				p.observe(info)
				return resp, nil
			}
			if wait, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				resp.Body.Close()
				metrics.RemoteRetryAfterWaits.Observe(wait.Seconds())
				info.Wait = wait
				p.logf("httpx: honouring Retry-After", "attempt", attempt, "wait", wait, "url", info.URL)
				p.observe(info)
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			resp.Body.Close()
			metrics.RemoteHTTPRetries.Inc()
		}

		// backoff with jitter
		jitter := time.Duration(rand.Intn(200)) * time.Millisecond
		delay := p.BaseDelay*time.Duration(attempt) + jitter
		info.Wait = delay
		p.logf("httpx: backing off", "attempt", attempt, "delay", delay, "url", info.URL)
		p.observe(info)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, ErrExhausted
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
