package authclient

import (
	"context"
	"encoding/json"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Storage keys used by TokenStore
const (
	KeyAccessToken  = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user_data"
)

// Credentials is a consistent view of everything TokenStore holds.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	User         *UserProfile
}

// TokenStore persists the access token, refresh token and cached profile.
// It performs no validation. Writers hold an exclusive lock so a Clear is
// never observed half done.
type TokenStore struct {
	mu      sync.RWMutex
	storage Storage
	logger  Logger
}

// TokenStoreOption customizes a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithTokenStoreLogger sets the logger
func WithTokenStoreLogger(logger Logger) TokenStoreOption {
	return func(s *TokenStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewTokenStore wraps storage. A nil storage falls back to MemoryStorage.
func NewTokenStore(storage Storage, opts ...TokenStoreOption) *TokenStore {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	s := &TokenStore{
		storage: storage,
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, KeyAccessToken)
}

// SetAccessToken stores token. An empty token removes the key.
func (s *TokenStore) SetAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, KeyAccessToken, token)
}

func (s *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, KeyRefreshToken)
}

// SetRefreshToken stores token. An empty token removes the key.
func (s *TokenStore) SetRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, KeyRefreshToken, token)
}

// User returns the cached profile. A corrupt entry is dropped and reported
// as absent.
func (s *TokenStore) User(ctx context.Context) (*UserProfile, error) {
	s.mu.RLock()
	user, corrupt, err := s.user(ctx)
	s.mu.RUnlock()

	if corrupt {
		s.mu.Lock()
		if derr := s.storage.Delete(ctx, KeyUser); derr != nil {
			s.logger.Warn("TokenStore failed to drop corrupt profile", "error", derr)
		}
		s.mu.Unlock()
	}
	return user, err
}

// SetUser stores the profile as JSON. A nil profile removes the key.
func (s *TokenStore) SetUser(ctx context.Context, user *UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putUser(ctx, user)
}

// SetCredentials writes the full credential set in one critical section.
// An empty refresh token keeps the stored one, matching servers that do not
// rotate.
func (s *TokenStore) SetCredentials(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.put(ctx, KeyAccessToken, creds.AccessToken); err != nil {
		return err
	}
	if creds.RefreshToken != "" {
		if err := s.put(ctx, KeyRefreshToken, creds.RefreshToken); err != nil {
			return err
		}
	}
	if creds.User != nil {
		return s.putUser(ctx, creds.User)
	}
	return nil
}

// SwapCredentials writes creds only while the stored refresh token still
// equals refreshToken. It reports whether the write happened; a cleared or
// replaced session leaves the store untouched.
func (s *TokenStore) SwapCredentials(ctx context.Context, refreshToken string, creds Credentials) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.get(ctx, KeyRefreshToken)
	if err != nil {
		return false, err
	}
	if current == "" || current != refreshToken {
		return false, nil
	}

	if err := s.put(ctx, KeyAccessToken, creds.AccessToken); err != nil {
		return false, err
	}
	if creds.RefreshToken != "" {
		if err := s.put(ctx, KeyRefreshToken, creds.RefreshToken); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Credentials reads all three keys under one read lock.
func (s *TokenStore) Credentials(ctx context.Context) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var creds Credentials
	var err error
	if creds.AccessToken, err = s.get(ctx, KeyAccessToken); err != nil {
		return Credentials{}, err
	}
	if creds.RefreshToken, err = s.get(ctx, KeyRefreshToken); err != nil {
		return Credentials{}, err
	}
	if creds.User, _, err = s.user(ctx); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Clear removes all three keys.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.DeleteMany(ctx, KeyAccessToken, KeyRefreshToken, KeyUser); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear token store")
	}
	return nil
}

func (s *TokenStore) get(ctx context.Context, key string) (string, error) {
	v, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read "+key)
	}
	if !ok {
		return "", nil
	}
	return v, nil
}

func (s *TokenStore) put(ctx context.Context, key, value string) error {
	var err error
	if value == "" {
		err = s.storage.Delete(ctx, key)
	} else {
		err = s.storage.Set(ctx, key, value)
	}
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write "+key)
	}
	return nil
}

func (s *TokenStore) user(ctx context.Context) (*UserProfile, bool, error) {
	raw, err := s.get(ctx, KeyUser)
	if err != nil || raw == "" {
		return nil, false, err
	}

	user := &UserProfile{}
	if err := json.Unmarshal([]byte(raw), user); err != nil {
		s.logger.Warn("TokenStore cached profile is not valid JSON", "error", err)
		return nil, true, nil
	}
	return user, false, nil
}

func (s *TokenStore) putUser(ctx context.Context, user *UserProfile) error {
	if user == nil {
		return s.put(ctx, KeyUser, "")
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode profile")
	}
	return s.put(ctx, KeyUser, string(raw))
}
