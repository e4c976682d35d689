package authclient

import (
	"context"
	"time"
)

// ActivityEventType enumerates session lifecycle events.
type ActivityEventType string

const (
	ActivityEventSignInSuccess      ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure      ActivityEventType = "auth.signin.failure"
	ActivityEventSignUp             ActivityEventType = "auth.signup"
	ActivityEventSignOut            ActivityEventType = "auth.signout"
	ActivityEventSessionRestored    ActivityEventType = "auth.session.restored"
	ActivityEventSessionInvalidated ActivityEventType = "auth.session.invalidated"
)

// ActivityEvent describes something that happened to the session.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Username   string
	Role       UserRole
	FromStatus SessionStatus
	ToStatus   SessionStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best effort: errors are logged and never change the session.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
