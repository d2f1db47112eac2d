// Package otp issues and verifies short numeric one-time codes used for
// email verification at signup and for password reset.
//
// At most one challenge exists per (email, purpose). Issuing a new code
// supersedes the previous one. A challenge allows five attempts and lives
// for ten minutes by default; the fifth wrong code still reports
// [ErrMismatch] and every later attempt reports [ErrExhausted] until a new
// code is issued.
//
// Codes are stored only as HMAC-SHA256(pepper, purpose|email|code).
package otp
