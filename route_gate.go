package authclient

import (
	"net/url"
	"strings"
)

// RouteAction is what the navigation layer should do with a request.
type RouteAction string

const (
	ActionRender   RouteAction = "render"
	ActionRedirect RouteAction = "redirect"
	ActionWait     RouteAction = "wait"
)

// RedirectParam carries the originally requested path through login.
const RedirectParam = "redirect"

// RouteRequest is a navigation to Path. Empty RequiredRoles means any
// authenticated user.
type RouteRequest struct {
	Path          string
	RequiredRoles []UserRole
}

// Decision is the gate verdict. Target is set only for redirects.
type Decision struct {
	Action RouteAction
	Target string
}

func render() Decision { return Decision{Action: ActionRender} }

func wait() Decision { return Decision{Action: ActionWait} }

func redirect(target string) Decision {
	return Decision{Action: ActionRedirect, Target: target}
}

// Decide guards a protected route. It is pure: the same request and state
// always produce the same decision.
//
// A session that is still resolving, optimistic included, always waits so a
// protected view is never rendered for an unconfirmed identity.
func Decide(req RouteRequest, state SessionState) Decision {
	if state.Loading() || !state.Initialized() {
		return wait()
	}

	if !state.IsAuthenticated() {
		return redirect(LoginRedirectTarget(req.Path))
	}

	if len(req.RequiredRoles) > 0 && !state.Role().In(req.RequiredRoles...) {
		return redirect(LandingPage(state.Role()))
	}

	return render()
}

// DecidePublic guards a public route. Authenticated users asking for the
// login or register forms go to their landing page instead.
func DecidePublic(path string, state SessionState) Decision {
	if state.Loading() || !state.Initialized() {
		return wait()
	}

	if state.IsAuthenticated() && IsAuthOnlyPath(path) {
		return redirect(LandingPage(state.Role()))
	}

	return render()
}

// IsAuthOnlyPath reports whether path is a form that only makes sense
// signed out.
func IsAuthOnlyPath(path string) bool {
	switch cleanPath(path) {
	case LoginPath, RegisterPath:
		return true
	}
	return false
}

// LoginRedirectTarget builds the login URL that returns to path afterwards.
func LoginRedirectTarget(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == "/" || IsAuthOnlyPath(path) {
		return LoginPath
	}
	return LoginPath + "?" + RedirectParam + "=" + url.QueryEscape(path)
}

// ReturnPath picks where to go after a successful login: the redirect query
// parameter when it is a local path, otherwise the role landing page.
func ReturnPath(rawQuery string, role UserRole) string {
	values, err := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	if err != nil {
		return LandingPage(role)
	}

	target := values.Get(RedirectParam)
	if !isLocalPath(target) || IsAuthOnlyPath(target) {
		return LandingPage(role)
	}
	return target
}

func isLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func cleanPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

// Route describes one application route.
type Route struct {
	// Pattern is a path where segments starting with ":" match anything.
	Pattern string
	Roles   []UserRole
	Public  bool
	// RedirectTo makes the route an alias.
	RedirectTo string
}

// RouteTable resolves paths to routes and gates them.
type RouteTable struct {
	routes   []Route
	fallback string
}

// NewRouteTable returns a table that redirects unknown paths to fallback.
func NewRouteTable(fallback string, routes ...Route) *RouteTable {
	if fallback == "" {
		fallback = "/"
	}
	return &RouteTable{routes: routes, fallback: fallback}
}

// DefaultRouteTable is the route layout of the insurance portal.
func DefaultRouteTable() *RouteTable {
	adminBroker := []UserRole{RoleAdmin, RoleBroker}
	return NewRouteTable("/",
		Route{Pattern: "/", Public: true},
		Route{Pattern: LoginPath, Public: true},
		Route{Pattern: RegisterPath, Public: true},
		Route{Pattern: "/forgot-password", Public: true},
		Route{Pattern: "/reset-password", Public: true},
		Route{Pattern: "/home", RedirectTo: "/"},
		Route{Pattern: LandingDefault},
		Route{Pattern: "/policies"},
		Route{Pattern: "/policy/view/:id"},
		Route{Pattern: "/policy/compare"},
		Route{Pattern: "/submit-claim"},
		Route{Pattern: "/claim/submit"},
		Route{Pattern: "/claim-status"},
		Route{Pattern: "/claim/status"},
		Route{Pattern: "/chatbot"},
		Route{Pattern: LandingAdmin, Roles: []UserRole{RoleAdmin}},
		Route{Pattern: "/admin/dashboard", Roles: []UserRole{RoleAdmin}},
		Route{Pattern: "/analytics", Roles: adminBroker},
		Route{Pattern: "/broker/upload", Roles: adminBroker},
		Route{Pattern: LandingBroker, Roles: adminBroker},
		Route{Pattern: "/user/dashboard", Roles: []UserRole{RoleUser}},
	)
}

// Routes returns a copy of the table entries.
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Match finds the first route whose pattern matches path.
func (t *RouteTable) Match(path string) (Route, bool) {
	segments := splitPath(cleanPath(path))
	for _, route := range t.routes {
		if matchSegments(splitPath(route.Pattern), segments) {
			return route, true
		}
	}
	return Route{}, false
}

// Decide gates path against state using the matching route.
func (t *RouteTable) Decide(path string, state SessionState) Decision {
	route, ok := t.Match(path)
	switch {
	case !ok:
		return redirect(t.fallback)
	case route.RedirectTo != "":
		return redirect(route.RedirectTo)
	case route.Public:
		return DecidePublic(path, state)
	default:
		return Decide(RouteRequest{Path: path, RequiredRoles: route.Roles}, state)
	}
}

// IsPublic reports whether path is served without a session.
func (t *RouteTable) IsPublic(path string) bool {
	route, ok := t.Match(path)
	return ok && route.Public
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if segments[i] == "" {
				return false
			}
			continue
		}
		if seg != segments[i] {
			return false
		}
	}
	return true
}
