// Package jwt issues and validates HS256 session tokens.
//
// A token carries the user ID as subject and the server-side session ID in
// the sid claim. Validation classifies failures as [ErrMalformed],
// [ErrSignatureInvalid] or [ErrExpired]. A previous secret may be configured
// so tokens signed before a rotation keep validating until they expire.
//
// A valid token is not proof of a live session; callers must cross-check the
// session registry.
package jwt
