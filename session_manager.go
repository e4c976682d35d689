package authclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SessionListener receives a snapshot after every state change.
type SessionListener func(SessionState)

// SessionManager owns the client session. It is the only writer of the
// session state and of the TokenStore credentials.
type SessionManager struct {
	api          *APIClient
	store        *TokenStore
	verifier     TokenVerifier
	serverVerify bool
	logger       Logger
	observer     MetricsObserver
	activitySink ActivitySink
	now          func() time.Time

	mu        sync.Mutex
	state     SessionState
	listeners map[uint64]SessionListener
	nextID    uint64
}

// SessionManagerOption customizes a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithSessionLogger sets the logger
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionMetrics sets the metrics observer
func WithSessionMetrics(observer MetricsObserver) SessionManagerOption {
	return func(m *SessionManager) {
		m.observer = normalizeObserver(observer)
	}
}

// WithSessionActivitySink sets the ActivitySink used to publish lifecycle events.
func WithSessionActivitySink(sink ActivitySink) SessionManagerOption {
	return func(m *SessionManager) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithTokenVerifier checks the persisted token signature locally during
// Start before any network call is made.
func WithTokenVerifier(verifier TokenVerifier) SessionManagerOption {
	return func(m *SessionManager) {
		m.verifier = verifier
	}
}

// WithServerVerify asks the server to verify the persisted token during
// Start before the profile is fetched.
func WithServerVerify(enabled bool) SessionManagerOption {
	return func(m *SessionManager) {
		m.serverVerify = enabled
	}
}

// NewSessionManager wires a manager to api and its TokenStore. It installs
// itself as the client's unrecoverable failure handler.
func NewSessionManager(api *APIClient, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		api:          api,
		store:        api.Store(),
		logger:       defLogger{},
		observer:     noopObserver{},
		activitySink: noopActivitySink{},
		now:          time.Now,
		state:        SessionState{Status: StatusUninitialized},
		listeners:    map[uint64]SessionListener{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	api.SetUnrecoverableHandler(func(ctx context.Context, err error) {
		m.Invalidate(ctx, err.Error())
	})

	return m
}

// State returns a snapshot of the current session.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// User returns a copy of the current profile, or nil.
func (m *SessionManager) User() *UserProfile {
	return m.State().User
}

// HasRole reports whether the authenticated user holds one of roles.
func (m *SessionManager) HasRole(roles ...UserRole) bool {
	state := m.State()
	if !state.IsAuthenticated() || state.User == nil {
		return false
	}
	return state.User.Role.In(roles...)
}

// Subscribe registers fn for state changes and returns a func that removes it.
func (m *SessionManager) Subscribe(fn SessionListener) func() {
	if fn == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Start resolves the persisted session. It fails closed: when the token is
// missing, rejected or the profile can not be fetched for any reason, the
// store is cleared and the session ends unauthenticated. The returned error
// is informational; the outcome is always visible through State.
func (m *SessionManager) Start(ctx context.Context) error {
	gen, err := m.transition(func(s *SessionState) {
		s.Status = StatusLoading
	})
	if err != nil {
		return err
	}

	creds, err := m.store.Credentials(ctx)
	if err != nil {
		m.failClosed(ctx, gen, "storage error")
		return err
	}

	if creds.AccessToken == "" {
		m.failClosed(ctx, gen, "no persisted token")
		return nil
	}

	now := m.now()
	plausible := IsPlausible(creds.AccessToken, now)
	if !plausible && creds.RefreshToken == "" {
		m.failClosed(ctx, gen, "persisted token expired")
		return nil
	}

	if plausible {
		if err := m.verifyLocal(creds.AccessToken); err != nil {
			m.failClosed(ctx, gen, "local verification failed")
			return err
		}

		m.transitionIf(gen, func(s *SessionState) {
			s.Status = StatusOptimistic
			s.AccessToken = creds.AccessToken
			s.RefreshToken = creds.RefreshToken
			s.User = creds.User.Clone()
		})

		if m.serverVerify {
			valid, err := m.api.Verify(ctx, creds.AccessToken)
			if err != nil || (!valid && creds.RefreshToken == "") {
				m.failClosed(ctx, gen, "server verification failed")
				return err
			}
		}
	}

	user, err := m.api.Me(ctx)
	if err != nil {
		m.logger.Warn("SessionManager bootstrap profile fetch failed", "error", err)
		m.failClosed(ctx, gen, "profile fetch failed")
		return err
	}

	return m.establish(ctx, gen, user, ActivityEventSessionRestored)
}

// SignIn logs in and establishes an authenticated session. Errors are
// returned to the caller and leave the session unauthenticated.
func (m *SessionManager) SignIn(ctx context.Context, username, password string) (*UserProfile, error) {
	gen := m.generation()

	res, err := m.api.Login(ctx, username, password)
	if err != nil {
		m.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventSignInFailure,
			Username:  username,
			Metadata:  map[string]any{"error": err.Error()},
		})
		m.settleUnauthenticated(gen)
		return nil, err
	}

	if err := m.persistIf(ctx, gen, Credentials{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         res.User,
	}); err != nil {
		return nil, err
	}

	user := res.User
	if me, err := m.api.Me(ctx); err == nil {
		user = me
	} else if IsUnrecoverable(err) {
		return nil, err
	} else {
		m.logger.Warn("SessionManager profile fetch after login failed, using login payload", "error", err)
	}

	if err := m.establish(ctx, gen, user, ActivityEventSignInSuccess); err != nil {
		return nil, err
	}
	return user.Clone(), nil
}

// SignUp registers an account. It never authenticates; callers sign in
// explicitly afterwards.
func (m *SessionManager) SignUp(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	res, err := m.api.Register(ctx, input)
	if err != nil {
		return nil, err
	}

	event := ActivityEvent{
		EventType: ActivityEventSignUp,
		Username:  input.Username,
		Role:      input.Role.Normalize(),
	}
	if res.User != nil {
		event.UserID = res.User.ID
	}
	m.recordActivity(ctx, event)

	return res, nil
}

// Logout asks the server to end the session and then unconditionally
// clears local credentials.
func (m *SessionManager) Logout(ctx context.Context) {
	m.api.Logout(ctx)
	m.destroy(ctx, ActivityEventSignOut, "logout")
}

// Invalidate destroys the session after an unrecoverable auth failure.
func (m *SessionManager) Invalidate(ctx context.Context, reason string) {
	m.logger.Warn("SessionManager invalidating session", "reason", reason)
	m.destroy(ctx, ActivityEventSessionInvalidated, reason)
}

// RefreshProfile re-fetches the profile. Transient failures keep the
// session; unrecoverable auth failures end it.
func (m *SessionManager) RefreshProfile(ctx context.Context) (*UserProfile, error) {
	state := m.State()
	if !state.IsAuthenticated() {
		return nil, newError(ErrUnauthorized, nil, map[string]any{
			"status": state.Status.String(),
		})
	}

	user, err := m.api.Me(ctx)
	if err != nil {
		return nil, err
	}

	if user.Role.Normalize() != state.Role().Normalize() {
		m.Invalidate(ctx, "role changed")
		return nil, newError(ErrRoleChanged, nil, map[string]any{
			"from": state.Role().String(),
			"to":   user.Role.String(),
		})
	}

	if err := m.replaceUser(ctx, state.Generation, user); err != nil {
		return nil, err
	}
	return user.Clone(), nil
}

// UpdateUser replaces the cached profile. The role is fixed for the life of
// a session and a different role yields ErrRoleChanged.
func (m *SessionManager) UpdateUser(ctx context.Context, user *UserProfile) error {
	if user == nil {
		return newError(ErrValidation, nil, map[string]any{"fields": map[string]any{"user": "cannot be blank"}})
	}

	state := m.State()
	if !state.IsAuthenticated() {
		return newError(ErrUnauthorized, nil, map[string]any{
			"status": state.Status.String(),
		})
	}

	if user.Role.Normalize() != state.Role().Normalize() {
		return newError(ErrRoleChanged, nil, map[string]any{
			"from": state.Role().String(),
			"to":   user.Role.String(),
		})
	}

	return m.replaceUser(ctx, state.Generation, user)
}

func (m *SessionManager) verifyLocal(token string) error {
	if m.verifier == nil {
		return nil
	}
	if _, err := m.verifier.Verify(token); err != nil {
		m.logger.Warn("SessionManager persisted token failed local verification", "error", err)
		return err
	}
	return nil
}

func (m *SessionManager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Generation
}

// persistIf writes creds only if the session generation is still gen.
func (m *SessionManager) persistIf(ctx context.Context, gen uint64, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Generation != gen {
		return ErrSessionChanged
	}
	return m.store.SetCredentials(ctx, creds)
}

// establish commits an authenticated session started at generation gen.
func (m *SessionManager) establish(ctx context.Context, gen uint64, user *UserProfile, event ActivityEventType) error {
	m.mu.Lock()
	if m.state.Generation != gen {
		m.mu.Unlock()
		m.logger.Debug("SessionManager discarding stale session result")
		return ErrSessionChanged
	}

	if err := m.store.SetUser(ctx, user); err != nil {
		m.mu.Unlock()
		m.failClosed(ctx, gen, "storage error")
		return err
	}

	creds, err := m.store.Credentials(ctx)
	if err != nil {
		m.mu.Unlock()
		m.failClosed(ctx, gen, "storage error")
		return err
	}

	from := m.state.Status
	m.state = SessionState{
		Status:       StatusAuthenticated,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		User:         user.Clone(),
		Generation:   gen + 1,
	}
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	m.observer.SessionTransition(from, StatusAuthenticated)
	m.notify(snapshot, listeners)
	m.recordActivity(ctx, ActivityEvent{
		EventType:  event,
		UserID:     user.ID,
		Username:   user.Username,
		Role:       user.Role,
		FromStatus: from,
		ToStatus:   StatusAuthenticated,
	})
	return nil
}

func (m *SessionManager) replaceUser(ctx context.Context, gen uint64, user *UserProfile) error {
	m.mu.Lock()
	if m.state.Generation != gen || m.state.Status != StatusAuthenticated {
		m.mu.Unlock()
		return ErrSessionChanged
	}

	if err := m.store.SetUser(ctx, user); err != nil {
		m.mu.Unlock()
		return err
	}

	m.state.User = user.Clone()
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot, listeners)
	return nil
}

// failClosed clears credentials and ends unauthenticated, unless the
// session already moved on from generation gen.
func (m *SessionManager) failClosed(ctx context.Context, gen uint64, reason string) {
	m.mu.Lock()
	if m.state.Generation != gen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.destroy(ctx, ActivityEventSessionInvalidated, reason)
}

// destroy clears the store and moves to unauthenticated. The store is
// cleared even if the session is already unauthenticated.
func (m *SessionManager) destroy(ctx context.Context, event ActivityEventType, reason string) {
	m.mu.Lock()
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("SessionManager failed to clear token store", "error", err)
	}

	from := m.state.Status
	user := m.state.User
	m.state = SessionState{
		Status:     StatusUnauthenticated,
		Generation: m.state.Generation + 1,
	}
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	if from != StatusUnauthenticated {
		m.observer.SessionTransition(from, StatusUnauthenticated)
	}
	m.notify(snapshot, listeners)

	if from == StatusUnauthenticated && event != ActivityEventSignOut {
		return
	}

	ev := ActivityEvent{
		EventType:  event,
		FromStatus: from,
		ToStatus:   StatusUnauthenticated,
		Metadata:   map[string]any{"reason": reason},
	}
	if user != nil {
		ev.UserID = user.ID
		ev.Username = user.Username
		ev.Role = user.Role
	}
	m.recordActivity(ctx, ev)
}

// settleUnauthenticated moves a never resolved session to unauthenticated
// after a failed sign in.
func (m *SessionManager) settleUnauthenticated(gen uint64) {
	m.mu.Lock()
	if m.state.Generation != gen || m.state.Status != StatusUninitialized {
		m.mu.Unlock()
		return
	}
	from := m.state.Status
	m.state.Status = StatusUnauthenticated
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	m.observer.SessionTransition(from, StatusUnauthenticated)
	m.notify(snapshot, listeners)
}

// transition applies mutate and returns the generation it ran under.
func (m *SessionManager) transition(mutate func(*SessionState)) (uint64, error) {
	m.mu.Lock()
	next := m.state
	mutate(&next)
	from := m.state.Status

	if !CanTransition(from, next.Status) {
		m.mu.Unlock()
		return 0, newError(ErrInvalidTransition, nil, map[string]any{
			"from": from.String(),
			"to":   next.Status.String(),
		})
	}

	m.state = next
	gen := next.Generation
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	if from != next.Status {
		m.observer.SessionTransition(from, next.Status)
	}
	m.notify(snapshot, listeners)
	return gen, nil
}

// transitionIf applies mutate only while the session is still at gen.
func (m *SessionManager) transitionIf(gen uint64, mutate func(*SessionState)) bool {
	m.mu.Lock()
	if m.state.Generation != gen {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	_, err := m.transition(func(s *SessionState) {
		if s.Generation == gen {
			mutate(s)
		}
	})
	return err == nil
}

func (m *SessionManager) snapshotLocked() (SessionState, []SessionListener) {
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	listeners := make([]SessionListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	return m.state.clone(), listeners
}

func (m *SessionManager) notify(state SessionState, listeners []SessionListener) {
	for _, fn := range listeners {
		m.safeNotify(fn, state)
	}
}

func (m *SessionManager) safeNotify(fn SessionListener, state SessionState) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("SessionManager listener panic", "panic", fmt.Sprint(r))
		}
	}()
	fn(state.clone())
}

func (m *SessionManager) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	sink := normalizeActivitySink(m.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		m.logger.Warn("session manager activity sink error: %v", err)
	}
}
