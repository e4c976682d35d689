package commands

import (
	"context"
	"os"
	"path/filepath"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/config"
	"github.com/goliatone/go-auth-client/metrics"
	"github.com/goliatone/go-auth-client/realtime"
	"github.com/goliatone/go-auth-client/repository"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds every component, built once per command invocation.
type app struct {
	opts     *config.Options
	logger   authclient.Logger
	storage  authclient.Storage
	store    *authclient.TokenStore
	api      *authclient.APIClient
	session  *authclient.SessionManager
	registry *prometheus.Registry
	metrics  *metrics.Collector
	closers  []func()
}

type globalFlags struct {
	configPath string
	logLevel   string
	storage    string
}

func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	opts, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	level := opts.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		return nil, err
	}

	a := &app{
		opts:     opts,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.metrics = metrics.NewCollector(a.registry)

	dsn := opts.StorageDSN
	if flags.storage != "" {
		dsn = flags.storage
	}
	if dsn == "" {
		dsn = defaultStorageDSN()
	}

	kv, err := repository.OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.storage = kv
	a.closers = append(a.closers, func() { _ = kv.Close() })

	a.store = authclient.NewTokenStore(kv, authclient.WithTokenStoreLogger(logger))
	a.api = authclient.NewAPIClient(opts, a.store,
		authclient.WithAPILogger(logger),
		authclient.WithAPIMetrics(a.metrics),
		authclient.WithDebugPayloads(opts.DebugPayloads),
	)

	sessionOpts := []authclient.SessionManagerOption{
		authclient.WithSessionLogger(logger),
		authclient.WithSessionMetrics(a.metrics),
		authclient.WithSessionActivitySink(authclient.ActivitySinkFunc(func(_ context.Context, e authclient.ActivityEvent) error {
			logger.Debug("session activity", "event", string(e.EventType), "user", e.Username, "to", e.ToStatus.String())
			return nil
		})),
	}

	if opts.JWKSURL != "" {
		verifier, err := authclient.NewJWKSVerifier(opts.JWKSURL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, verifier.Close)
		sessionOpts = append(sessionOpts, authclient.WithTokenVerifier(verifier))
	}

	a.session = authclient.NewSessionManager(a.api, sessionOpts...)
	return a, nil
}

func (a *app) channel() *realtime.Channel {
	history := realtime.NewHistory(a.storage,
		realtime.WithHistoryLimit(a.opts.HistoryLimit),
		realtime.WithHistoryLogger(a.logger),
	)
	return realtime.NewChannel(a.opts.GetWebSocketURL(),
		realtime.WithLogger(a.logger),
		realtime.WithMetrics(a.metrics),
		realtime.WithHistory(history),
		realtime.WithConnectTimeout(a.opts.ConnectTimeout),
		realtime.WithBackoff(a.opts.ReconnectBaseDelay, a.opts.ReconnectMaxDelay),
		realtime.WithMaxReconnectAttempts(a.opts.MaxReconnectAttempts),
		realtime.WithTokenSource(a.api.BearerToken),
	)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func defaultStorageDSN() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "file:authclient.db"
	}
	dir = filepath.Join(dir, "authclient")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "file:authclient.db"
	}
	return "file:" + filepath.Join(dir, "state.db")
}
