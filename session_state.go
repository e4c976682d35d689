package authclient

import (
	goerrors "github.com/goliatone/go-errors"
)

// SessionStatus is the lifecycle status of the client session.
type SessionStatus string

const (
	StatusUninitialized SessionStatus = "uninitialized"
	StatusLoading       SessionStatus = "loading"
	// StatusOptimistic means a persisted token decodes and has not expired
	// but the server has not confirmed the identity yet.
	StatusOptimistic      SessionStatus = "optimistic_authenticated"
	StatusAuthenticated   SessionStatus = "authenticated"
	StatusUnauthenticated SessionStatus = "unauthenticated"
)

const textCodeInvalidTransition = "INVALID_SESSION_TRANSITION"

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryInternal).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeInternal)

var sessionTransitions = map[SessionStatus]map[SessionStatus]struct{}{
	StatusUninitialized: {
		StatusLoading:         {},
		StatusAuthenticated:   {},
		StatusUnauthenticated: {},
	},
	StatusLoading: {
		StatusOptimistic:      {},
		StatusAuthenticated:   {},
		StatusUnauthenticated: {},
	},
	StatusOptimistic: {
		StatusAuthenticated:   {},
		StatusUnauthenticated: {},
	},
	StatusAuthenticated: {
		StatusLoading:         {},
		StatusUnauthenticated: {},
	},
	StatusUnauthenticated: {
		StatusLoading:       {},
		StatusAuthenticated: {},
	},
}

// CanTransition reports whether the session may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return true
	}
	allowed, ok := sessionTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

func (s SessionStatus) String() string {
	return string(s)
}

// SessionState is an immutable snapshot of the session. Generation changes
// every time a session is created or destroyed; async work compares it to
// detect that its result is stale.
type SessionState struct {
	Status       SessionStatus
	AccessToken  string
	RefreshToken string
	User         *UserProfile
	Generation   uint64
}

// IsAuthenticated is true only once the server confirmed the identity.
func (s SessionState) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// Loading is true while the session is resolving, optimistic included.
func (s SessionState) Loading() bool {
	return s.Status == StatusLoading || s.Status == StatusOptimistic
}

func (s SessionState) Initialized() bool {
	return s.Status != "" && s.Status != StatusUninitialized
}

func (s SessionState) Optimistic() bool {
	return s.Status == StatusOptimistic
}

// Role returns the user role or "" when there is no user.
func (s SessionState) Role() UserRole {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}

func (s SessionState) clone() SessionState {
	s.User = s.User.Clone()
	return s
}
