package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsRefreshes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RefreshAttempt()
	c.RefreshAttempt()
	c.RefreshFailure("rejected")
	c.RequestRetried()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.refreshAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.refreshFailures.WithLabelValues("rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.requestRetries))
}

func TestCollectorCountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SessionTransition(authclient.StatusLoading, authclient.StatusAuthenticated)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.sessionTransitions.WithLabelValues("loading", "authenticated"),
	))
}

func TestCollectorCountsChannelEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ConnectAttempt()
	c.Connected()
	c.Reconnect(1)
	c.Reconnect(1)
	c.MaxReconnectReached()
	c.NotificationReceived("CLAIM_UPDATE")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.connectAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.connections))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.reconnects.WithLabelValues("1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.maxReconnectReached))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.notifications.WithLabelValues("CLAIM_UPDATE")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RefreshAttempt()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "authclient_refresh_attempts_total 1"))
}
