package fleetauth

import (
	"context"
	"errors"

	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/otp"
	"github.com/fleetyard/fleetauth/password"
)

// ChangePassword replaces the password of an authenticated user and
// revokes every session of that user, the caller's included.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := password.CheckPolicy(newPassword); err != nil {
		return wrap(ErrPasswordPolicy, err)
	}
	if oldPassword == newPassword {
		e.metricInc(MetricPasswordChangeReuseRejected)
		return ErrPasswordReuse
	}

	if err := e.credentials.ComparePassword(ctx, userID, oldPassword); err != nil {
		err = mapCredentialError(err)
		if errors.Is(err, ErrUserNotFound) {
			err = wrap(ErrInvalidCredentials, err)
		}
		if errors.Is(err, ErrInvalidCredentials) {
			e.metricInc(MetricPasswordChangeInvalidOld)
		}
		e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordChange, UserID: userID, Error: auditError(err)})
		return err
	}

	if _, err := e.credentials.SetPassword(ctx, userID, newPassword); err != nil {
		return mapCredentialError(err)
	}
	if _, err := e.revokeAll(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordChange, UserID: userID, Success: true})
	return nil
}

// RequestPasswordReset mails a reset code when email belongs to an active
// account. The result does not reveal whether it does.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = credential.NormalizeEmail(email)
	e.metricInc(MetricPasswordResetRequest)

	if err := e.allowCode(ctx, otp.PurposeReset, email); err != nil {
		return err
	}

	user, err := e.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil
		}
		return mapCredentialError(err)
	}
	if !user.Active {
		return nil
	}

	// Delivery failures are logged by deliverCode and not surfaced, since
	// a 503 here would only happen for registered emails.
	if err := e.deliverCode(ctx, user.Email, otp.PurposeReset); err != nil && !errors.Is(err, ErrDeliveryFailed) {
		return err
	}
	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordResetIssue, UserID: user.ID, Email: email, Success: true})
	return nil
}

// ConfirmPasswordReset consumes the reset code, sets the new password and
// revokes every session. A successful reset also proves the email.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = credential.NormalizeEmail(email)

	if err := password.CheckPolicy(newPassword); err != nil {
		return wrap(ErrPasswordPolicy, err)
	}

	if err := e.verifyCode(ctx, email, otp.PurposeReset, code); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordResetFinish, Email: email, Error: auditError(err)})
		return err
	}

	user, err := e.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return ErrMismatch
		}
		return mapCredentialError(err)
	}

	if _, err := e.credentials.SetPassword(ctx, user.ID, newPassword); err != nil {
		return mapCredentialError(err)
	}
	if !user.EmailVerified {
		if _, err := e.credentials.MarkEmailVerified(ctx, user.ID); err != nil {
			return mapCredentialError(err)
		}
	}
	if _, err := e.revokeAll(ctx, user.ID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordResetFinish, UserID: user.ID, Email: email, Success: true})
	return nil
}
