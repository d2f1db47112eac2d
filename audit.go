package fleetauth

import (
	"context"

	"github.com/fleetyard/fleetauth/internal/audit"
)

// AuditEvent is one security-relevant occurrence emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

const (
	AuditLogin               = "login"
	AuditLogout              = "logout"
	AuditLogoutAll           = "logout_all"
	AuditSignup              = "signup"
	AuditSignupConfirm       = "signup_confirm"
	AuditCodeSent            = "code_sent"
	AuditPasswordChange      = "password_change"
	AuditPasswordResetIssue  = "password_reset_request"
	AuditPasswordResetFinish = "password_reset_confirm"
	AuditRoleChange          = "role_change"
	AuditDeactivate          = "deactivate"
	AuditSessionRevoke       = "session_revoke"
	AuditAuthorizationDenied = "authorization_denied"
)

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

func auditError(err error) string {
	if err == nil {
		return ""
	}
	return ClassifyError(err).Code
}
