package authclient

import (
	"context"
)

var sessionCtxKey = &contextKey{"session"}
var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithSessionContext sets the SessionState in the given context
func WithSessionContext(ctx context.Context, state SessionState) context.Context {
	ctx = context.WithValue(ctx, sessionCtxKey, state)
	if state.User != nil {
		ctx = WithContext(ctx, state.User)
	}
	return ctx
}

// SessionFromContext extracts the SessionState from the standard context
func SessionFromContext(ctx context.Context) (SessionState, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(SessionState)
	return raw, ok
}

// WithContext sets the UserProfile in the given context
func WithContext(ctx context.Context, user *UserProfile) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*UserProfile, bool) {
	raw, ok := ctx.Value(userCtxKey).(*UserProfile)
	return raw, ok && raw != nil
}

// HasRoleFromContext reports whether the authenticated session in ctx holds
// one of roles.
func HasRoleFromContext(ctx context.Context, roles ...UserRole) bool {
	state, ok := SessionFromContext(ctx)
	if !ok || !state.IsAuthenticated() {
		return false
	}
	return state.Role().In(roles...)
}
