package fleetauth

import (
	"errors"
	"fmt"

	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/internal/rate"
	"github.com/fleetyard/fleetauth/jwt"
	"github.com/fleetyard/fleetauth/otp"
	"github.com/fleetyard/fleetauth/session"
)

// wrap keeps both the engine sentinel and the component cause visible to
// errors.Is.
func wrap(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}

func mapCredentialError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credential.ErrInvalidCredentials):
		return wrap(ErrInvalidCredentials, err)
	case errors.Is(err, credential.ErrDuplicateEmail):
		return wrap(ErrDuplicateEmail, err)
	case errors.Is(err, credential.ErrNotFound):
		return wrap(ErrUserNotFound, err)
	case errors.Is(err, credential.ErrInvalidRole):
		return wrap(ErrInvalidRole, err)
	case errors.Is(err, credential.ErrInvalidEmail):
		return wrap(ErrInvalidEmail, err)
	case errors.Is(err, credential.ErrPasswordPolicy):
		return wrap(ErrPasswordPolicy, err)
	case errors.Is(err, credential.ErrUnavailable):
		return wrap(ErrDependencyUnavailable, err)
	}
	return err
}

func mapOTPError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, otp.ErrMismatch):
		return wrap(ErrMismatch, err)
	case errors.Is(err, otp.ErrExpired):
		return wrap(ErrExpired, err)
	case errors.Is(err, otp.ErrExhausted):
		return wrap(ErrExhausted, err)
	case errors.Is(err, otp.ErrUnavailable):
		return wrap(ErrDependencyUnavailable, err)
	}
	return err
}

func mapTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrExpired):
		return wrap(ErrExpired, err)
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return wrap(ErrSignatureInvalid, err)
	}
	return wrap(ErrMalformed, err)
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return wrap(ErrSessionNotFound, err)
	case errors.Is(err, session.ErrUnavailable):
		return wrap(ErrDependencyUnavailable, err)
	}
	return err
}

func mapRateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return wrap(ErrRateLimited, err)
	case errors.Is(err, rate.ErrRedisUnavailable):
		return wrap(ErrDependencyUnavailable, err)
	}
	return err
}
