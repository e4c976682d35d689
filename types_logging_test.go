package authclient_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

func (l *captureLogger) find(level, message string) (logCall, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, call := range l.calls {
		if call.level == level && call.message == message {
			return call, true
		}
	}
	return logCall{}, false
}

func TestAPIClientLogsWithKeyValues(t *testing.T) {
	b := newBackend(t)
	b.addAccount("alice", "wonderland", authclient.RoleUser)

	logger := &captureLogger{}
	c := newClient(b, authclient.WithAPILogger(logger))

	_, err := c.api.Login(context.Background(), "alice", "wonderland")
	require.NoError(t, err)

	call, ok := logger.find("info", "APIClient login succeeded")
	require.True(t, ok)
	assert.Equal(t, []any{"username", "alice"}, call.args)
}

func TestAPIClientLogsUnrecoverableFailure(t *testing.T) {
	b := newBackend(t)
	b.addAccount("alice", "wonderland", authclient.RoleUser)

	logger := &captureLogger{}
	c := newClient(b, authclient.WithAPILogger(logger))
	signedIn(t, b, c, "alice", time.Now().Add(time.Hour))
	b.set(func(b *backend) { b.rejectData = 2 })

	require.Error(t, c.api.Do(context.Background(), http.MethodGet, "/api/data", nil, nil))

	_, ok := logger.find("warn", "APIClient unrecoverable auth failure")
	assert.True(t, ok)
}

func TestSessionManagerLogsInvalidation(t *testing.T) {
	b := newBackend(t)
	b.addAccount("alice", "wonderland", authclient.RoleUser)

	logger := &captureLogger{}
	c := newClient(b)
	c.session = authclient.NewSessionManager(c.api, authclient.WithSessionLogger(logger))

	_, err := c.session.SignIn(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	c.session.Invalidate(context.Background(), "test")

	call, ok := logger.find("warn", "SessionManager invalidating session")
	require.True(t, ok)
	assert.Equal(t, []any{"reason", "test"}, call.args)
}

func TestDefaultLoggerDoesNotPanic(t *testing.T) {
	logger := authclient.DefaultLogger()
	assert.NotPanics(t, func() {
		logger.Debug("debug %s", "message")
		logger.Info("info")
		logger.Warn("warn %d", 1)
		logger.Error("error\n")
	})
}
