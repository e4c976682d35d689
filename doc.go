// Package authclient provides the client side of the platform authentication
// flow: a persisted token store, an HTTP client that attaches and refreshes
// bearer tokens, a session manager that tracks who is signed in, and a pure
// route gate that decides what a navigation should do.
//
// Session lifecycle:
//   - SessionManager owns the only mutable SessionState. Start restores a
//     persisted session (fail-closed), SignIn/Logout move between
//     authenticated and unauthenticated, and SignUp never authenticates.
//   - While a persisted token is plausible but unverified the session sits in
//     StatusOptimistic so gates can wait instead of flashing a login form.
//
// Token refresh:
//   - APIClient refreshes expired tokens before sending and retries a request
//     at most once after a 401. Unrecoverable failures invoke the
//     OnUnrecoverable hook, which the SessionManager uses to invalidate the
//     session.
//
// Route gating:
//   - Decide and DecidePublic are pure. LandingPage is the single mapping
//     from role to landing route and is total over every role value.
package authclient
