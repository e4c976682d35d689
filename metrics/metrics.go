// Package metrics exposes client counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authclient"

var (
	_ authclient.MetricsObserver = (*Collector)(nil)
	_ realtime.Metrics           = (*Collector)(nil)
)

// Collector records session, refresh and realtime counters.
type Collector struct {
	refreshAttempts     prometheus.Counter
	refreshFailures     *prometheus.CounterVec
	requestRetries      prometheus.Counter
	sessionTransitions  *prometheus.CounterVec
	connectAttempts     prometheus.Counter
	connections         prometheus.Counter
	reconnects          *prometheus.CounterVec
	maxReconnectReached prometheus.Counter
	notifications       *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_attempts_total",
			Help:      "Token refresh calls issued",
		}),
		refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Token refresh failures by reason",
		}, []string{"reason"}),
		requestRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Requests retried after a 401",
		}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session status transitions",
		}, []string{"from", "to"}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_connect_attempts_total",
			Help:      "Websocket dial attempts",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_connections_total",
			Help:      "Websocket connections established",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_reconnects_total",
			Help:      "Websocket reconnect attempts by attempt number",
		}, []string{"attempt"}),
		maxReconnectReached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_max_reconnect_reached_total",
			Help:      "Times the reconnect budget was exhausted",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_received_total",
			Help:      "Notifications received by type",
		}, []string{"type"}),
	}

	reg.MustRegister(
		c.refreshAttempts,
		c.refreshFailures,
		c.requestRetries,
		c.sessionTransitions,
		c.connectAttempts,
		c.connections,
		c.reconnects,
		c.maxReconnectReached,
		c.notifications,
	)

	return c
}

func (c *Collector) RefreshAttempt() {
	c.refreshAttempts.Inc()
}

func (c *Collector) RefreshFailure(reason string) {
	c.refreshFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) RequestRetried() {
	c.requestRetries.Inc()
}

func (c *Collector) SessionTransition(from, to authclient.SessionStatus) {
	c.sessionTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (c *Collector) ConnectAttempt() {
	c.connectAttempts.Inc()
}

func (c *Collector) Connected() {
	c.connections.Inc()
}

func (c *Collector) Reconnect(attempt int) {
	c.reconnects.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

func (c *Collector) MaxReconnectReached() {
	c.maxReconnectReached.Inc()
}

func (c *Collector) NotificationReceived(kind string) {
	c.notifications.WithLabelValues(kind).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
