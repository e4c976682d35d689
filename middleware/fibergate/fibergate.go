// Package fibergate applies the route authorization gate to fiber requests.
package fibergate

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	authclient "github.com/goliatone/go-auth-client"
)

const defaultContextKey = "session"

// StateResolver returns the session that applies to the request.
type StateResolver func(c *fiber.Ctx) (authclient.SessionState, error)

// Config for the gate middleware.
type Config struct {
	// Filter skips the gate when it returns true.
	Filter func(*fiber.Ctx) bool
	// Resolver is required.
	Resolver StateResolver
	// Table defaults to authclient.DefaultRouteTable().
	Table *authclient.RouteTable
	// ContextKey is where the session is stored in Locals.
	ContextKey string
	// RetryAfter is sent with the 503 returned while the session resolves.
	RetryAfter int
	// ErrorHandler handles resolver errors. Defaults to a redirect to login.
	ErrorHandler fiber.ErrorHandler
	// WaitHandler renders the waiting state. Defaults to 503 + Retry-After.
	WaitHandler fiber.Handler
}

// ManagerResolver resolves every request to the manager's current state.
func ManagerResolver(m *authclient.SessionManager) StateResolver {
	return func(*fiber.Ctx) (authclient.SessionState, error) {
		return m.State(), nil
	}
}

func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Resolver == nil {
		panic("fibergate: Resolver is required")
	}
	if cfg.Table == nil {
		cfg.Table = authclient.DefaultRouteTable()
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = defaultContextKey
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 1
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			return c.Redirect(authclient.LoginRedirectTarget(c.OriginalURL()), fiber.StatusFound)
		}
	}
	if cfg.WaitHandler == nil {
		retryAfter := strconv.Itoa(cfg.RetryAfter)
		cfg.WaitHandler = func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}
	}
	return cfg
}

// New returns the gate middleware.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		state, err := cfg.Resolver(c)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, state)
		c.SetUserContext(authclient.WithSessionContext(c.UserContext(), state))

		decision := cfg.Table.Decide(c.Path(), state)
		switch decision.Action {
		case authclient.ActionRedirect:
			target := decision.Target
			if target == authclient.LoginPath || hasLoginPrefix(target) {
				target = authclient.LoginRedirectTarget(c.OriginalURL())
			}
			return c.Redirect(target, fiber.StatusFound)
		case authclient.ActionWait:
			return cfg.WaitHandler(c)
		default:
			return c.Next()
		}
	}
}

// SessionFromLocals returns the session stored by the gate.
func SessionFromLocals(c *fiber.Ctx, key string) (authclient.SessionState, bool) {
	if key == "" {
		key = defaultContextKey
	}
	state, ok := c.Locals(key).(authclient.SessionState)
	return state, ok
}

func hasLoginPrefix(target string) bool {
	return len(target) > len(authclient.LoginPath) &&
		target[:len(authclient.LoginPath)+1] == authclient.LoginPath+"?"
}
