package authclient

import (
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenVerifier checks a token signature locally. It is optional defense in
// depth on top of the server side Verify call.
type TokenVerifier interface {
	Verify(token string) (*AccessClaims, error)
}

// TokenVerifierFunc adapts a function into a TokenVerifier.
type TokenVerifierFunc func(token string) (*AccessClaims, error)

// Verify satisfies the TokenVerifier interface.
func (f TokenVerifierFunc) Verify(token string) (*AccessClaims, error) {
	if f == nil {
		return nil, ErrTokenMalformed
	}
	return f(token)
}

// KeyfuncVerifier validates tokens against a JWK set or a set of given keys.
type KeyfuncVerifier struct {
	keyfunc  jwt.Keyfunc
	jwks     *keyfunc.JWKS
	issuer   string
	audience string
}

// KeyfuncOption customizes a KeyfuncVerifier.
type KeyfuncOption func(*KeyfuncVerifier)

// WithExpectedIssuer requires the iss claim.
func WithExpectedIssuer(issuer string) KeyfuncOption {
	return func(v *KeyfuncVerifier) {
		v.issuer = issuer
	}
}

// WithExpectedAudience requires the aud claim.
func WithExpectedAudience(audience string) KeyfuncOption {
	return func(v *KeyfuncVerifier) {
		v.audience = audience
	}
}

// NewJWKSVerifier fetches the JWK set at url and keeps it refreshed in the
// background. Call Close to stop the refresh goroutine.
func NewJWKSVerifier(url string, logger Logger, opts ...KeyfuncOption) (*KeyfuncVerifier, error) {
	if logger == nil {
		logger = defLogger{}
	}

	jwks, err := keyfunc.Get(url, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Error("failed to do a background refresh of JWK set", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, fmt.Sprintf("failed to load JWK set from %s", url))
	}

	v := &KeyfuncVerifier{keyfunc: jwks.Keyfunc, jwks: jwks}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// NewHMACVerifier verifies HS256 tokens with a shared key. Mostly useful for
// tests and development backends.
func NewHMACVerifier(kid string, key []byte, opts ...KeyfuncOption) *KeyfuncVerifier {
	given := map[string]keyfunc.GivenKey{
		kid: keyfunc.NewGivenHMAC(key, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		}),
	}

	v := &KeyfuncVerifier{keyfunc: keyfunc.NewGiven(given).Keyfunc}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify satisfies the TokenVerifier interface.
func (v *KeyfuncVerifier) Verify(token string) (*AccessClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if v.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(v.audience))
	}

	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyfunc, parserOptions...)
	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, newError(ErrTokenExpired, err, nil)
		}
		return nil, newError(ErrTokenMalformed, err, nil)
	}

	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// Close stops the background JWK refresh, if any.
func (v *KeyfuncVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
