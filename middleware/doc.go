// Package middleware adapts fleetauth.Engine to net/http.
//
// # Interceptor
//
// An [Interceptor] matches request paths against exact patterns and "*"
// prefixes and applies one [Policy] to all of them. Under [PolicyEnforce]
// the configured guards run in declared order and the first rejection
// ends the request with a JSON error body; under [PolicyPassThrough]
// matched requests are forwarded untouched.
//
// # Guards
//
//   - [UserGuard] requires a valid token and a live session.
//   - [AdminGuard] additionally requires the admin role.
//
// Both place the resolved principal in the request context, see
// [PrincipalFromContext] and [UserFromContext].
//
// # What this package must NOT do
//
//   - Parse or create tokens (delegates to the Engine).
//   - Access the session or credential stores directly.
//   - Leak error detail beyond fleetauth.ClassifyError.
package middleware
