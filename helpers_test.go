package authclient_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testKID    = "test"
	testSecret = "secret"
)

type testConfig struct {
	baseURL  string
	skew     time.Duration
	coalesce bool
}

func (c testConfig) GetBaseURL() string               { return c.baseURL }
func (c testConfig) GetRequestTimeout() time.Duration { return 5 * time.Second }
func (c testConfig) GetExpirySkew() time.Duration     { return c.skew }
func (c testConfig) GetRefreshCoalescing() bool       { return c.coalesce }

func makeToken(t *testing.T, subject string, role authclient.UserRole, exp time.Time) string {
	t.Helper()
	claims := authclient.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		},
		UID:      subject,
		UserRole: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type account struct {
	password string
	profile  authclient.UserProfile
}

// backend is an in process fake of the auth REST API.
type backend struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	calls         map[string]int
	accounts      map[string]account
	access        map[string]string
	refresh       map[string]string
	rotate        bool
	refreshDelay  time.Duration
	rejectData    int
	logoutStatus  int
	meStatus      int
	meGate        chan struct{}
	refreshGate   chan struct{}
	refreshStatus int
	seq           int
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		t:        t,
		calls:    map[string]int{},
		accounts: map[string]account{},
		access:   map[string]string{},
		refresh:  map[string]string{},
		rotate:   true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", b.handleLogin)
	mux.HandleFunc("/api/auth/register", b.handleRegister)
	mux.HandleFunc("/api/auth/refresh", b.handleRefresh)
	mux.HandleFunc("/api/auth/logout", b.handleLogout)
	mux.HandleFunc("/api/auth/verify", b.handleVerify)
	mux.HandleFunc("/api/auth/me", b.handleMe)
	mux.HandleFunc("/api/data", b.handleData)

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) addAccount(username, password string, role authclient.UserRole) authclient.UserProfile {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	profile := authclient.UserProfile{
		ID:        fmt.Sprintf("%d", b.seq),
		Username:  username,
		Email:     username + "@example.com",
		FirstName: strings.ToUpper(username[:1]) + username[1:],
		LastName:  "Tester",
		Role:      role,
	}
	b.accounts[username] = account{password: password, profile: profile}
	return profile
}

// issue mints a credential pair for username.
func (b *backend) issue(username string, exp time.Time) (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueLocked(username, exp)
}

func (b *backend) issueLocked(username string, exp time.Time) (string, string) {
	acc := b.accounts[username]
	b.seq++
	access := makeToken(b.t, acc.profile.ID, acc.profile.Role, exp)
	refresh := fmt.Sprintf("refresh-%d", b.seq)
	b.access[access] = username
	b.refresh[refresh] = username
	return access, refresh
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

func (b *backend) set(fn func(b *backend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *backend) track(r *http.Request) {
	b.mu.Lock()
	b.calls[r.URL.Path]++
	b.mu.Unlock()
}

func (b *backend) bearerUser(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	defer b.mu.Unlock()
	username, ok := b.access[token]
	if !ok || authclient.IsExpired(token, time.Now()) {
		return "", false
	}
	return username, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.track(r)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	acc, ok := b.accounts[req.Username]
	if !ok || acc.password != req.Password {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid username or password"})
		return
	}
	access, refresh := b.issueLocked(req.Username, time.Now().Add(time.Hour))
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"token":        access,
		"refreshToken": refresh,
		"id":           json.Number(acc.profile.ID),
		"username":     acc.profile.Username,
		"role":         acc.profile.Role,
		"email":        acc.profile.Email,
		"firstName":    acc.profile.FirstName,
		"lastName":     acc.profile.LastName,
	})
}

func (b *backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	b.track(r)
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)

	username, _ := req["username"].(string)
	b.mu.Lock()
	_, exists := b.accounts[username]
	b.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Username already exists"})
		return
	}

	role, _ := req["role"].(string)
	password, _ := req["password"].(string)
	profile := b.addAccount(username, password, authclient.UserRole(role))
	writeJSON(w, http.StatusCreated, profile)
}

func (b *backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.track(r)
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	delay := b.refreshDelay
	status := b.refreshStatus
	gate := b.refreshGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"message": "refresh unavailable"})
		return
	}

	b.mu.Lock()
	username, ok := b.refresh[req.RefreshToken]
	if !ok {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid refresh token"})
		return
	}
	if b.rotate {
		delete(b.refresh, req.RefreshToken)
	}
	access, refresh := b.issueLocked(username, time.Now().Add(time.Hour))
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"token": access, "refreshToken": refresh})
}

func (b *backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.track(r)
	b.mu.Lock()
	status := b.logoutStatus
	b.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{"message": "bye"})
}

func (b *backend) handleVerify(w http.ResponseWriter, r *http.Request) {
	b.track(r)
	if _, ok := b.bearerUser(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (b *backend) handleMe(w http.ResponseWriter, r *http.Request) {
	b.track(r)
	b.mu.Lock()
	status := b.meStatus
	gate := b.meGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"message": "unavailable"})
		return
	}

	username, ok := b.bearerUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}
	b.mu.Lock()
	profile := b.accounts[username].profile
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, profile)
}

func (b *backend) handleData(w http.ResponseWriter, r *http.Request) {
	b.track(r)
	b.mu.Lock()
	reject := b.rejectData > 0
	if reject {
		b.rejectData--
	}
	b.mu.Unlock()

	if _, ok := b.bearerUser(r); !ok || reject {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}
	if r.Method == http.MethodPost {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "backend exploded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": []int{1, 2, 3}})
}

// client wires a store, API client and session manager against b.
type client struct {
	store   *authclient.TokenStore
	api     *authclient.APIClient
	session *authclient.SessionManager
}

func newClient(b *backend, apiOpts ...authclient.APIClientOption) *client {
	store := authclient.NewTokenStore(authclient.NewMemoryStorage())
	api := authclient.NewAPIClient(testConfig{baseURL: b.srv.URL, skew: authclient.DefaultExpirySkew, coalesce: true}, store, apiOpts...)
	return &client{
		store:   store,
		api:     api,
		session: authclient.NewSessionManager(api),
	}
}

// MockObserver implements authclient.MetricsObserver
type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) RefreshAttempt() {
	m.Called()
}

func (m *MockObserver) RefreshFailure(reason string) {
	m.Called(reason)
}

func (m *MockObserver) RequestRetried() {
	m.Called()
}

func (m *MockObserver) SessionTransition(from, to authclient.SessionStatus) {
	m.Called(from, to)
}

// MockActivitySink implements authclient.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event authclient.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
