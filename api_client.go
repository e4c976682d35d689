package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

// REST endpoints consumed by the client
const (
	PathLogin    = "/api/auth/login"
	PathRegister = "/api/auth/register"
	PathRefresh  = "/api/auth/refresh"
	PathLogout   = "/api/auth/logout"
	PathVerify   = "/api/auth/verify"
	PathMe       = "/api/auth/me"
)

const defaultRequestTimeout = 30 * time.Second

// UnrecoverableHandler is invoked when a request fails in a way that must
// end the session.
type UnrecoverableHandler func(ctx context.Context, err error)

// APIClient talks to the auth endpoints and wraps every other authenticated
// call with refresh and retry.
type APIClient struct {
	baseURL       string
	httpClient    *http.Client
	store         *TokenStore
	logger        Logger
	observer      MetricsObserver
	now           func() time.Time
	skew          time.Duration
	coalesce      bool
	debugPayloads bool

	refreshGroup singleflight.Group

	mu              sync.RWMutex
	onUnrecoverable UnrecoverableHandler
}

// APIClientOption customizes an APIClient.
type APIClientOption func(*APIClient)

// WithHTTPClient overrides the http.Client
func WithHTTPClient(client *http.Client) APIClientOption {
	return func(c *APIClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPILogger sets the logger
func WithAPILogger(logger Logger) APIClientOption {
	return func(c *APIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAPIMetrics sets the metrics observer
func WithAPIMetrics(observer MetricsObserver) APIClientOption {
	return func(c *APIClient) {
		c.observer = normalizeObserver(observer)
	}
}

// WithAPIClock injects a custom clock (useful for tests).
func WithAPIClock(clock func() time.Time) APIClientOption {
	return func(c *APIClient) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithRefreshCoalescing toggles sharing a single in flight refresh between
// concurrent callers. Enabled by default. Disabled, every failing request
// refreshes on its own, which can race with server side token rotation.
func WithRefreshCoalescing(enabled bool) APIClientOption {
	return func(c *APIClient) {
		c.coalesce = enabled
	}
}

// WithDebugPayloads logs decoded response bodies at debug level.
func WithDebugPayloads(enabled bool) APIClientOption {
	return func(c *APIClient) {
		c.debugPayloads = enabled
	}
}

// WithUnrecoverableHandler sets the hook fired on unrecoverable failures.
func WithUnrecoverableHandler(handler UnrecoverableHandler) APIClientOption {
	return func(c *APIClient) {
		c.onUnrecoverable = handler
	}
}

// NewAPIClient returns a client for cfg.GetBaseURL() backed by store.
func NewAPIClient(cfg Config, store *TokenStore, opts ...APIClientOption) *APIClient {
	timeout := cfg.GetRequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	skew := cfg.GetExpirySkew()
	if skew < 0 {
		skew = 0
	}

	if store == nil {
		store = NewTokenStore(nil)
	}

	c := &APIClient{
		baseURL:    cfg.GetBaseURL(),
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		logger:     defLogger{},
		observer:   noopObserver{},
		now:        time.Now,
		skew:       skew,
		coalesce:   cfg.GetRefreshCoalescing(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Store returns the TokenStore used by this client
func (c *APIClient) Store() *TokenStore {
	return c.store
}

// SetUnrecoverableHandler replaces the unrecoverable failure hook.
func (c *APIClient) SetUnrecoverableHandler(handler UnrecoverableHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnrecoverable = handler
}

func (c *APIClient) unrecoverableHandler() UnrecoverableHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onUnrecoverable
}

// Login exchanges credentials for tokens. It does not touch the store; the
// session manager decides what to persist.
func (c *APIClient) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, validationError(err)
	}

	res := loginResponse{}
	status, err := c.roundTrip(ctx, apiRequest{
		method: http.MethodPost,
		path:   PathLogin,
		body:   loginRequest{Username: username, Password: password},
		out:    &res,
	}, "")

	if err != nil {
		if status >= 400 && status < 500 {
			return nil, newError(ErrInvalidCredentials, nil, map[string]any{
				"status":  status,
				"message": errorMessage(err),
			})
		}
		return nil, err
	}

	if res.Token == "" {
		return nil, newError(ErrInvalidCredentials, nil, map[string]any{
			"status":  status,
			"message": "login response carried no token",
		})
	}

	c.logger.Info("APIClient login succeeded", "username", username)

	return &LoginResult{
		AccessToken:  res.Token,
		RefreshToken: res.RefreshToken,
		User:         res.profile(username),
	}, nil
}

// Register creates an account. Success never implies a session.
func (c *APIClient) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	if err := input.Validate(); err != nil {
		return nil, validationError(err)
	}
	input = input.Normalized()

	var raw json.RawMessage
	status, err := c.roundTrip(ctx, apiRequest{
		method: http.MethodPost,
		path:   PathRegister,
		body:   input,
		out:    &raw,
	}, "")

	if err != nil {
		if status >= 400 && status < 500 {
			return nil, newError(ErrValidation, nil, map[string]any{
				"status":  status,
				"message": errorMessage(err),
			})
		}
		return nil, err
	}

	result := &RegisterResult{Message: "Registration successful. Please sign in."}
	if len(raw) > 0 {
		user := &UserProfile{}
		if err := json.Unmarshal(raw, user); err == nil && (user.ID != "" || user.Username != "") {
			result.User = user
		}
		var msg registerMessage
		if err := json.Unmarshal(raw, &msg); err == nil && msg.Message != "" {
			result.Message = msg.Message
		}
	}

	return result, nil
}

// Refresh mints new credentials from refreshToken. A rejected refresh token
// yields ErrRefreshFailed.
func (c *APIClient) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	c.observer.RefreshAttempt()

	res := refreshResponse{}
	status, err := c.roundTrip(ctx, apiRequest{
		method: http.MethodPost,
		path:   PathRefresh,
		body:   refreshRequest{RefreshToken: refreshToken},
		out:    &res,
	}, "")

	if err != nil {
		if status >= 400 && status < 500 {
			c.observer.RefreshFailure("rejected")
			return nil, newError(ErrRefreshFailed, nil, map[string]any{
				"status":  status,
				"message": errorMessage(err),
			})
		}
		c.observer.RefreshFailure("transient")
		return nil, err
	}

	if res.Token == "" {
		c.observer.RefreshFailure("empty")
		return nil, newError(ErrRefreshFailed, nil, map[string]any{
			"status":  status,
			"message": "refresh response carried no token",
		})
	}

	return &RefreshResult{
		AccessToken:  res.Token,
		RefreshToken: res.RefreshToken,
	}, nil
}

// refreshStored refreshes with refreshToken and persists the result,
// returning the new access token.
func (c *APIClient) refreshStored(ctx context.Context, refreshToken string) (string, error) {
	if !c.coalesce {
		return c.refreshAndStore(ctx, refreshToken)
	}

	v, err, shared := c.refreshGroup.Do(refreshToken, func() (any, error) {
		return c.refreshAndStore(ctx, refreshToken)
	})
	if shared {
		c.logger.Debug("APIClient joined in flight refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *APIClient) refreshAndStore(ctx context.Context, refreshToken string) (string, error) {
	res, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	swapped, err := c.store.SwapCredentials(ctx, refreshToken, Credentials{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
	if err != nil {
		return "", err
	}
	if !swapped {
		return c.afterLostSwap(ctx)
	}

	c.logger.Debug("APIClient refreshed access token")
	return res.AccessToken, nil
}

// afterLostSwap handles a refresh whose result was not stored. A cleared
// store means the session ended while the refresh was in flight. Otherwise
// a concurrent refresh rotated the pair first and its token is used.
func (c *APIClient) afterLostSwap(ctx context.Context) (string, error) {
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return "", err
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		c.logger.Debug("APIClient discarding refresh result, session changed")
		return "", ErrSessionChanged
	}
	return creds.AccessToken, nil
}

// Logout asks the server to invalidate the session. It is best effort:
// failures are logged and never returned.
func (c *APIClient) Logout(ctx context.Context) {
	token, err := c.store.AccessToken(ctx)
	if err != nil {
		c.logger.Warn("APIClient logout could not read token", "error", err)
	}

	if _, err := c.roundTrip(ctx, apiRequest{
		method: http.MethodPost,
		path:   PathLogout,
	}, token); err != nil {
		c.logger.Warn("APIClient server side logout failed", "error", err)
	}
}

// Verify asks the server whether token is valid. A 401 is reported as
// (false, nil).
func (c *APIClient) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	res := verifyResponse{}
	status, err := c.roundTrip(ctx, apiRequest{
		method: http.MethodGet,
		path:   PathVerify,
		out:    &res,
	}, token)

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.Valid, nil
}

// Me fetches the current profile.
func (c *APIClient) Me(ctx context.Context) (*UserProfile, error) {
	user := &UserProfile{}
	if err := c.send(ctx, apiRequest{
		method: http.MethodGet,
		path:   PathMe,
		out:    user,
	}); err != nil {
		return nil, err
	}
	return user, nil
}

// Do performs an authenticated JSON call. body and out may be nil. Errors
// other than unrecoverable auth failures are scoped to this call.
func (c *APIClient) Do(ctx context.Context, method, path string, body, out any) error {
	return c.send(ctx, apiRequest{
		method: method,
		path:   path,
		body:   body,
		out:    out,
	})
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Metadata != nil {
		if msg, ok := richErr.Metadata["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return err.Error()
}
