package authclient

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeNetwork            = "NETWORK_ERROR"
	TextCodeRefreshFailed      = "REFRESH_FAILED"
	TextCodeUnauthorized       = "UNAUTHORIZED"
	TextCodeRequestFailed      = "REQUEST_FAILED"
	TextCodeValidation         = "VALIDATION_FAILED"
	TextCodeRoleChanged        = "ROLE_CHANGED"
	TextCodeNoRefreshToken     = "NO_REFRESH_TOKEN"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeSessionChanged     = "SESSION_CHANGED"
)

// ErrInvalidCredentials is returned when the server rejects a login (4xx).
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrNetwork is returned when the request never produced an HTTP response.
var ErrNetwork = goerrors.New("network error", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetwork).
	WithCode(goerrors.CodeInternal)

// ErrRefreshFailed is returned when the server rejects a refresh token.
var ErrRefreshFailed = goerrors.New("token refresh failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnauthorized is returned when a request is still rejected after one
// refresh-and-retry.
var ErrUnauthorized = goerrors.New("unauthorized", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// ErrRequestFailed wraps non-2xx responses other than 401.
var ErrRequestFailed = goerrors.New("request failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeRequestFailed)

// ErrValidation is returned when client side input validation fails.
var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrRoleChanged is returned when a profile update tries to change the role
// of the active session.
var ErrRoleChanged = goerrors.New("role change requires a new sign in", goerrors.CategoryConflict).
	WithTextCode(TextCodeRoleChanged).
	WithCode(goerrors.CodeConflict)

// ErrNoRefreshToken is returned when a refresh is needed but none is stored.
var ErrNoRefreshToken = goerrors.New("no refresh token available", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoRefreshToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a token cannot be decoded.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned by verifiers for expired tokens.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionChanged is returned when the session was replaced or destroyed
// while a request was in flight. The late result is discarded.
var ErrSessionChanged = goerrors.New("session changed while request was in flight", goerrors.CategoryConflict).
	WithTextCode(TextCodeSessionChanged).
	WithCode(goerrors.CodeConflict)

// newError clones a sentinel so per-call metadata never leaks into the
// shared value.
func newError(sentinel *goerrors.Error, cause error, metadata map[string]any) *goerrors.Error {
	clone := sentinel.Clone()
	if cause != nil {
		clone.Source = cause
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["cause"] = cause.Error()
	}
	if len(metadata) > 0 {
		clone = clone.WithMetadata(metadata)
	}
	return clone
}

// HasTextCode reports whether err is a go-errors error carrying code.
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// IsUnrecoverable reports whether err must end the session: a rejected
// refresh token or a 401 that survived the retry.
func IsUnrecoverable(err error) bool {
	return HasTextCode(err, TextCodeRefreshFailed) ||
		HasTextCode(err, TextCodeUnauthorized) ||
		HasTextCode(err, TextCodeNoRefreshToken)
}

// IsNetworkError reports transport failures.
func IsNetworkError(err error) bool {
	return HasTextCode(err, TextCodeNetwork)
}

// IsInvalidCredentials reports rejected logins.
func IsInvalidCredentials(err error) bool {
	return HasTextCode(err, TextCodeInvalidCredentials)
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, TextCodeTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed")
}

// StatusCode returns the HTTP status recorded on a request error, or 0.
func StatusCode(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return 0
	}
	if code, ok := richErr.Metadata["status"].(int); ok {
		return code
	}
	return 0
}
