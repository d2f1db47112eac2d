package fleetauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/mail"
	"github.com/fleetyard/fleetauth/otp"
	"go.uber.org/zap"
)

// Signup creates an unverified account and mails a signup code. When the
// account is created but delivery fails, the user is returned together
// with ErrDeliveryFailed and ResendSignupCode can be used.
func (e *Engine) Signup(ctx context.Context, email, plaintext string) (credential.User, error) {
	if err := e.ready(); err != nil {
		return credential.User{}, err
	}

	user, err := e.credentials.CreateUser(ctx, email, plaintext, credential.RoleUser)
	if err != nil {
		err = mapCredentialError(err)
		if errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricSignupDuplicate)
		}
		e.emitAudit(ctx, AuditEvent{EventType: AuditSignup, Email: credential.NormalizeEmail(email), Error: auditError(err)})
		return credential.User{}, err
	}
	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignup, UserID: user.ID, Email: user.Email, Success: true})

	if err := e.allowCode(ctx, otp.PurposeSignup, user.Email); err != nil {
		return user, err
	}
	if err := e.deliverCode(ctx, user.Email, otp.PurposeSignup); err != nil {
		return user, err
	}
	return user, nil
}

// ConfirmSignup consumes the signup code and marks the email verified.
func (e *Engine) ConfirmSignup(ctx context.Context, email, code string) (credential.User, error) {
	if err := e.ready(); err != nil {
		return credential.User{}, err
	}
	email = credential.NormalizeEmail(email)

	if err := e.verifyCode(ctx, email, otp.PurposeSignup, code); err != nil {
		e.metricInc(MetricSignupConfirmFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditSignupConfirm, Email: email, Error: auditError(err)})
		return credential.User{}, err
	}

	user, err := e.credentials.GetByEmail(ctx, email)
	if err != nil {
		return credential.User{}, mapCredentialError(err)
	}
	user, err = e.credentials.MarkEmailVerified(ctx, user.ID)
	if err != nil {
		return credential.User{}, mapCredentialError(err)
	}

	e.metricInc(MetricSignupConfirmSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignupConfirm, UserID: user.ID, Email: email, Success: true})
	return user, nil
}

// ResendSignupCode issues a fresh signup code, superseding the previous
// one. Unknown or already verified emails return nil without sending.
func (e *Engine) ResendSignupCode(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = credential.NormalizeEmail(email)

	if err := e.allowCode(ctx, otp.PurposeSignup, email); err != nil {
		return err
	}

	user, err := e.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil
		}
		return mapCredentialError(err)
	}
	if user.EmailVerified || !user.Active {
		return nil
	}
	return e.deliverCode(ctx, user.Email, otp.PurposeSignup)
}

func (e *Engine) allowCode(ctx context.Context, purpose otp.Purpose, email string) error {
	if err := e.limiter.AllowCode(ctx, string(purpose), email); err != nil {
		err = mapRateError(err)
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricCodeRateLimited)
		}
		return err
	}
	return nil
}

// deliverCode issues a challenge and mails it. The code never leaves this
// function other than through the mailer.
func (e *Engine) deliverCode(ctx context.Context, email string, purpose otp.Purpose) error {
	code, err := e.verifier.Issue(ctx, email, purpose)
	if err != nil {
		return mapOTPError(err)
	}

	vars := map[string]string{
		"code":            code,
		"expires_minutes": strconv.Itoa(int(e.verifier.TTL().Minutes())),
	}
	if err := e.mailer.SendMessage(ctx, email, templateFor(purpose), vars); err != nil {
		e.metricInc(MetricCodeDeliveryFailed)
		e.logger.Warn("code delivery failed",
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
		return wrap(ErrDeliveryFailed, err)
	}

	e.metricInc(MetricCodeSent)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditCodeSent,
		Email:     email,
		Success:   true,
		Metadata:  map[string]string{"purpose": string(purpose)},
	})
	return nil
}

func (e *Engine) verifyCode(ctx context.Context, email string, purpose otp.Purpose, code string) error {
	err := mapOTPError(e.verifier.Verify(ctx, email, purpose, code))
	if errors.Is(err, ErrExhausted) {
		e.metricInc(MetricCodeExhausted)
	}
	return err
}

func templateFor(purpose otp.Purpose) string {
	if purpose == otp.PurposeReset {
		return mail.TemplateResetCode
	}
	return mail.TemplateSignupCode
}
