// Package middleware adapts access token verification to net/http.
//
//   - [Guard] reads the Authorization bearer token, verifies it as an access
//     token and stores the claims in the request context.
//   - [RequireRole] restricts a route to a set of roles.
//
// Guards never touch the session registry: access tokens are stateless and stay
// valid until expiry even after their family is revoked.
package middleware
