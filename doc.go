// Package fleetauth authenticates users of the fleet management
// application and gates its privileged operations.
//
// An Engine is assembled with New().WithConfig(...).Build() and combines
// the credential store, the one-time code verifier, the token issuer and
// the session registry. A token is only ever accepted together with its
// live session entry, so revoking a session takes effect immediately.
//
// Password change, password reset, role change and deactivation revoke
// every session of the affected user.
//
// HTTP integration lives in the middleware and httpapi packages.
package fleetauth
