package authclient

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpirySkew is subtracted from exp before a token is considered
// usable.
const DefaultExpirySkew = 5 * time.Minute

// AccessClaims are the claims the client reads out of an access token. The
// client never trusts them for authorization, only for scheduling refreshes.
type AccessClaims struct {
	jwt.RegisteredClaims
	UID      string   `json:"uid,omitempty"`
	UserRole UserRole `json:"role,omitempty"`
}

// UserID returns the user ID
func (c *AccessClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

// Role returns the global role
func (c *AccessClaims) Role() UserRole {
	return c.UserRole.Normalize()
}

// Expires returns the expiration time
func (c *AccessClaims) Expires() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAtTime returns the issued at time
func (c *AccessClaims) IssuedAtTime() time.Time {
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

// DecodeToken decodes the payload of a JWT without verifying its signature.
func DecodeToken(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return nil, newError(ErrTokenMalformed, nil, map[string]any{"reason": "segments"})
	}

	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, newError(ErrTokenMalformed, err, nil)
	}
	return claims, nil
}

// IsExpired reports exp <= now. Tokens that do not decode or carry no exp
// are expired.
func IsExpired(token string, now time.Time) bool {
	claims, err := DecodeToken(token)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return !now.Before(claims.Expires())
}

// IsUsable reports now < exp - skew.
func IsUsable(token string, now time.Time, skew time.Duration) bool {
	claims, err := DecodeToken(token)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return now.Before(claims.Expires().Add(-skew))
}

// IsPlausible reports whether token is structurally a JWT that has not
// expired by local decode. It is what the gate uses to decide between
// waiting and redirecting before the session resolves.
func IsPlausible(token string, now time.Time) bool {
	return token != "" && !IsExpired(token, now)
}
