package errorreporting

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/onnwee/matchcache/internal/config"
)

// PII patterns to scrub from error messages
var piiPatterns = []*regexp.Regexp{
	// Email addresses
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_-]{20,}`),
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)["\s:=]+[a-zA-Z0-9_-]{16,}`),
	// Credentials embedded in connection strings
	regexp.MustCompile(`://[^:/@\s]+:[^@\s]+@`),
	// IP addresses
	regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
}

var enabled bool

// Init initializes Sentry error reporting. A missing DSN leaves reporting off.
func Init(cfg *config.Config) error {
	if cfg.SentryDSN == "" {
		enabled = false
		return nil
	}
	if err := ValidateDSN(cfg.SentryDSN); err != nil {
		return err
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.SentryEnvironment,
		Release:          release(cfg),
		SampleRate:       cfg.SentrySampleRate,
		BeforeSend:       beforeSend,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	enabled = true
	return nil
}

func release(cfg *config.Config) string {
	if cfg.SentryRelease != "" {
		return cfg.SentryRelease
	}
	return "dev"
}

// beforeSend scrubs PII and drops sensitive request data.
func beforeSend(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	for i := range event.Exception {
		event.Exception[i].Value = scrubPII(event.Exception[i].Value)
	}
	if event.Message != "" {
		event.Message = scrubPII(event.Message)
	}
	for key, value := range event.Extra {
		if str, ok := value.(string); ok {
			event.Extra[key] = scrubPII(str)
		}
	}
	for i := range event.Breadcrumbs {
		event.Breadcrumbs[i].Message = scrubPII(event.Breadcrumbs[i].Message)
	}

	if event.Request != nil {
		if event.Request.Headers != nil {
			delete(event.Request.Headers, "Authorization")
			delete(event.Request.Headers, "Cookie")
			delete(event.Request.Headers, "X-Api-Key")
		}
		event.Request.QueryString = ""
	}

	return event
}

func scrubPII(text string) string {
	result := text
	for _, pattern := range piiPatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// CaptureError captures an error and sends it to Sentry
func CaptureError(err error) {
	if err == nil || !enabled {
		return
	}
	sentry.CaptureException(err)
}

// CaptureErrorWithContext captures an error with additional context
func CaptureErrorWithContext(err error, tags map[string]string, extras map[string]interface{}) {
	if err == nil || !enabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		// extras are scrubbed by beforeSend
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Breadcrumb records a warning-level breadcrumb attached to the next event.
func Breadcrumb(category, message string) {
	AddBreadcrumb(category, message, sentry.LevelWarning)
}

// AddBreadcrumb adds a breadcrumb for debugging context
func AddBreadcrumb(category, message string, level sentry.Level) {
	if !enabled {
		return
	}
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     level,
		Timestamp: time.Now(),
	})
}

// Flush waits for all events to be sent to Sentry
func Flush(timeout time.Duration) bool {
	if !enabled {
		return true
	}
	return sentry.Flush(timeout)
}

// ScrubPII exposes the PII scrubbing function for external use
func ScrubPII(text string) string {
	return scrubPII(text)
}

// IsSentryEnabled returns true if Init configured a client.
func IsSentryEnabled() bool {
	return enabled
}

// ValidateDSN checks if the provided DSN is valid
func ValidateDSN(dsn string) error {
	if !strings.HasPrefix(dsn, "https://") && !strings.HasPrefix(dsn, "http://") {
		return fmt.Errorf("invalid Sentry DSN format")
	}
	return nil
}
