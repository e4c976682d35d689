// Package config loads client options from defaults, an optional config
// file and AUTHCLIENT_ prefixed environment variables.
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/realtime"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "AUTHCLIENT"

var _ authclient.Config = (*Options)(nil)

// Options is the client configuration.
type Options struct {
	BaseURL           string        `mapstructure:"base_url"`
	WebSocketURL      string        `mapstructure:"ws_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ExpirySkew        time.Duration `mapstructure:"expiry_skew"`
	RefreshCoalescing bool          `mapstructure:"refresh_coalescing"`
	StorageDSN        string        `mapstructure:"storage_dsn"`
	JWKSURL           string        `mapstructure:"jwks_url"`
	PhoneRegion       string        `mapstructure:"phone_region"`
	DebugPayloads     bool          `mapstructure:"debug_payloads"`
	LogLevel          string        `mapstructure:"log_level"`

	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	HistoryLimit         int           `mapstructure:"history_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("ws_url", "")
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("expiry_skew", authclient.DefaultExpirySkew.String())
	v.SetDefault("refresh_coalescing", true)
	v.SetDefault("storage_dsn", "")
	v.SetDefault("jwks_url", "")
	v.SetDefault("phone_region", authclient.DefaultPhoneRegion)
	v.SetDefault("debug_payloads", false)
	v.SetDefault("log_level", "info")

	v.SetDefault("connect_timeout", realtime.DefaultConnectTimeout.String())
	v.SetDefault("max_reconnect_attempts", realtime.DefaultMaxReconnectAttempts)
	v.SetDefault("reconnect_base_delay", realtime.DefaultBaseDelay.String())
	v.SetDefault("reconnect_max_delay", realtime.DefaultMaxDelay.String())
	v.SetDefault("history_limit", realtime.DefaultHistoryLimit)
}

// Load reads configuration. path is optional; when set the file must exist.
func Load(path string) (*Options, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, err
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// Validate checks the loaded values.
func (o *Options) Validate() error {
	if o.BaseURL == "" {
		return errors.New("config: base_url must be set")
	}
	if u, err := url.Parse(o.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("config: base_url must be an absolute URL")
	}
	if o.ExpirySkew < 0 {
		return errors.New("config: expiry_skew must not be negative")
	}
	if o.MaxReconnectAttempts < 0 {
		return errors.New("config: max_reconnect_attempts must not be negative")
	}
	if o.HistoryLimit <= 0 {
		return errors.New("config: history_limit must be positive")
	}
	if o.ReconnectMaxDelay > 0 && o.ReconnectBaseDelay > o.ReconnectMaxDelay {
		return errors.New("config: reconnect_base_delay must not exceed reconnect_max_delay")
	}
	return nil
}

func (o *Options) GetBaseURL() string {
	return o.BaseURL
}

func (o *Options) GetRequestTimeout() time.Duration {
	return o.RequestTimeout
}

func (o *Options) GetExpirySkew() time.Duration {
	return o.ExpirySkew
}

func (o *Options) GetRefreshCoalescing() bool {
	return o.RefreshCoalescing
}

// GetWebSocketURL returns ws_url, or the base URL with a ws scheme and the
// /ws path when unset.
func (o *Options) GetWebSocketURL() string {
	if o.WebSocketURL != "" {
		return o.WebSocketURL
	}
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
