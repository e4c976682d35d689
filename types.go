package authclient

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds client options
type Config interface {
	GetBaseURL() string
	GetRequestTimeout() time.Duration
	GetExpirySkew() time.Duration
	GetRefreshCoalescing() bool
}

// Storage is the persistent key/value backend behind TokenStore and the
// notification history. Missing keys return ("", false, nil).
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys ...string) error
}

// MetricsObserver receives counters from the client. metrics.Collector
// implements it with prometheus.
type MetricsObserver interface {
	RefreshAttempt()
	RefreshFailure(reason string)
	RequestRetried()
	SessionTransition(from, to SessionStatus)
}

type noopObserver struct{}

func (noopObserver) RefreshAttempt() {}

func (noopObserver) RefreshFailure(string) {}

func (noopObserver) RequestRetried() {}

func (noopObserver) SessionTransition(SessionStatus, SessionStatus) {}

func normalizeObserver(o MetricsObserver) MetricsObserver {
	if o == nil {
		return noopObserver{}
	}
	return o
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTHCLIENT "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTHCLIENT "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTHCLIENT "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTHCLIENT "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
