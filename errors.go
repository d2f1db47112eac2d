package fleetauth

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and
	// deactivated accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidRole        = errors.New("invalid role")
	// ErrInvalidRequest marks a request body that failed decoding or
	// validation before reaching the engine.
	ErrInvalidRequest = errors.New("invalid request")
	ErrUserNotFound   = errors.New("user not found")
	// ErrEmailUnverified is returned by Login only after the password has
	// been verified.
	ErrEmailUnverified = errors.New("email not verified")

	ErrExpired   = errors.New("expired")
	ErrExhausted = errors.New("attempts exhausted")
	ErrMismatch  = errors.New("code mismatch")

	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrSessionNotFound  = errors.New("session not found")

	ErrPasswordPolicy = errors.New("password does not meet policy")
	ErrPasswordReuse  = errors.New("new password must differ from current password")

	// ErrDependencyUnavailable marks a failure to reach a backing store.
	// It is never folded into an authentication failure.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrRateLimited           = errors.New("rate limited")
	// ErrDeliveryFailed means the code was issued but the message could not
	// be sent. Requesting a new code is safe.
	ErrDeliveryFailed = errors.New("code delivery failed")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorResponse is the minimal client-facing description of an error.
type ErrorResponse struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ClassifyError maps err to a fixed status and code. Nothing from the
// underlying error text reaches the response.
func ClassifyError(err error) ErrorResponse {
	switch {
	case err == nil:
		return ErrorResponse{Status: http.StatusOK}
	case errors.Is(err, ErrDependencyUnavailable):
		return ErrorResponse{Status: http.StatusServiceUnavailable, Code: "unavailable", Message: "try again later"}
	case errors.Is(err, ErrDeliveryFailed):
		return ErrorResponse{Status: http.StatusServiceUnavailable, Code: "delivery_failed", Message: "request a new code"}
	case errors.Is(err, ErrRateLimited):
		return ErrorResponse{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "try again later"}
	case errors.Is(err, ErrForbidden):
		return ErrorResponse{Status: http.StatusForbidden, Code: "forbidden"}
	case errors.Is(err, ErrUnauthenticated):
		return ErrorResponse{Status: http.StatusUnauthorized, Code: "unauthenticated", Message: "log in again"}
	case errors.Is(err, ErrEmailUnverified):
		return ErrorResponse{Status: http.StatusForbidden, Code: "email_unverified", Message: "verify your email"}
	case errors.Is(err, ErrInvalidCredentials):
		return ErrorResponse{Status: http.StatusUnauthorized, Code: "invalid_credentials"}
	case errors.Is(err, ErrDuplicateEmail):
		return ErrorResponse{Status: http.StatusConflict, Code: "duplicate_email"}
	case errors.Is(err, ErrExpired):
		return ErrorResponse{Status: http.StatusBadRequest, Code: "code_expired", Message: "request a new code"}
	case errors.Is(err, ErrExhausted):
		return ErrorResponse{Status: http.StatusBadRequest, Code: "code_exhausted", Message: "request a new code"}
	case errors.Is(err, ErrMismatch):
		return ErrorResponse{Status: http.StatusBadRequest, Code: "code_mismatch"}
	case errors.Is(err, ErrPasswordPolicy):
		return ErrorResponse{Status: http.StatusBadRequest, Code: "password_policy"}
	case errors.Is(err, ErrPasswordReuse):
		return ErrorResponse{Status: http.StatusBadRequest, Code: "password_reuse"}
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidRequest):
		return ErrorResponse{Status: http.StatusBadRequest, Code: "invalid_request"}
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrSessionNotFound):
		return ErrorResponse{Status: http.StatusNotFound, Code: "not_found"}
	default:
		return ErrorResponse{Status: http.StatusInternalServerError, Code: "internal"}
	}
}
