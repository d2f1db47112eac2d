package fleetauth

import (
	"context"
	"errors"
	"time"

	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/internal/audit"
	"github.com/fleetyard/fleetauth/internal/rate"
	"github.com/fleetyard/fleetauth/jwt"
	"github.com/fleetyard/fleetauth/mail"
	"github.com/fleetyard/fleetauth/otp"
	"github.com/fleetyard/fleetauth/session"
	"go.uber.org/zap"
)

// Engine orchestrates credentials, one-time codes, tokens and sessions.
// It is safe for concurrent use once built.
type Engine struct {
	config      Config
	logger      *zap.Logger
	now         func() time.Time
	credentials *credential.Store
	issuer      *jwt.Issuer
	sessions    session.Registry
	verifier    *otp.Verifier
	codes       otp.Store
	limiter     *rate.Limiter
	mailer      mail.Sender
	audit       *audit.Dispatcher
	metrics     *Metrics
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	SessionID string
	User      credential.User
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the engine configuration with secrets removed.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	cfg := cloneConfig(e.config)
	cfg.JWT.Secret = nil
	cfg.JWT.PreviousSecret = nil
	cfg.OTP.Pepper = nil
	return cfg
}

// AuditDropped reports audit events lost to backpressure, keyed by event
// type.
func (e *Engine) AuditDropped() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.audit.Dropped()
}

// Metrics exposes the live counters for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return emptySnapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.credentials == nil || e.issuer == nil || e.sessions == nil || e.verifier == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Login verifies the password, mints a token and records the matching
// session. The returned token is useless without that session entry.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email = credential.NormalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
		err = mapRateError(err)
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
		}
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, Email: email, Error: auditError(err)})
		return nil, err
	}

	user, record, err := e.credentials.VerifyPassword(ctx, email, plaintext, loginMetadata(ctx))
	if err != nil {
		err = mapCredentialError(err)
		if errors.Is(err, ErrInvalidCredentials) {
			e.metricInc(MetricLoginFailure)
			if limitErr := e.limiter.RecordLoginFailure(ctx, email, ip); limitErr != nil {
				e.logger.Warn("record login failure", zap.Error(limitErr))
			}
		}
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, Email: email, Error: auditError(err)})
		return nil, err
	}

	if e.config.Account.RequireVerifiedEmail && !user.EmailVerified {
		e.metricInc(MetricLoginUnverified)
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, UserID: user.ID, Email: email, Error: auditError(ErrEmailUnverified)})
		return nil, ErrEmailUnverified
	}

	if err := e.limiter.ResetLogin(ctx, email); err != nil {
		e.logger.Warn("reset login attempts", zap.Error(err))
	}

	sessionID, err := session.NewID()
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := e.issuer.Issue(user.ID, sessionID)
	if err != nil {
		return nil, err
	}

	entry := session.Entry{
		SessionID:      sessionID,
		UserID:         user.ID,
		LoginHistoryID: record.ID,
		CreatedAt:      e.now().UTC(),
		ExpiresAt:      expiresAt,
	}
	if err := e.sessions.Create(ctx, entry); err != nil {
		err = mapSessionError(err)
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, UserID: user.ID, Email: email, Error: auditError(err)})
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, UserID: user.ID, Email: email, SessionID: sessionID, Success: true})

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		SessionID: sessionID,
		User:      user,
	}, nil
}

// Logout revokes one session. Revoking an unknown session succeeds.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		return mapSessionError(err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{EventType: AuditLogout, SessionID: sessionID, Success: true})
	return nil
}

// LogoutAll revokes every session of userID and returns how many were live.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.revokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditEvent{EventType: AuditLogoutAll, UserID: userID, Success: true})
	return n, nil
}

// LoginHistory returns the newest login records of userID, capped by
// Account.LoginHistoryLimit.
func (e *Engine) LoginHistory(ctx context.Context, userID string) ([]credential.LoginRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	records, err := e.credentials.History(ctx, userID, e.config.Account.LoginHistoryLimit)
	if err != nil {
		return nil, mapCredentialError(err)
	}
	return records, nil
}

func (e *Engine) revokeAll(ctx context.Context, userID string) (int, error) {
	n, err := e.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, mapSessionError(err)
	}
	if e.metrics != nil {
		e.metrics.Add(MetricSessionRevoked, uint64(n))
	}
	return n, nil
}
