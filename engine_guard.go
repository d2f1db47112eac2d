package fleetauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/session"
)

// Principal is the caller resolved from a valid token and its live
// session.
type Principal struct {
	User    credential.User
	Session session.Entry
}

// Authenticate validates token, cross-checks the session registry and
// resolves the account. Every rejection wraps ErrUnauthenticated except a
// backing store failure, which wraps ErrDependencyUnavailable.
func (e *Engine) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	principal, err := e.authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrDependencyUnavailable) {
			e.metricInc(MetricGuardUnavailable)
		} else {
			e.metricInc(MetricGuardUnauthenticated)
		}
		return nil, err
	}
	e.metricInc(MetricGuardAllowed)
	return principal, nil
}

func (e *Engine) authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := e.issuer.Validate(token)
	if err != nil {
		return nil, wrap(ErrUnauthenticated, mapTokenError(err))
	}
	if !session.ValidID(claims.SessionID) {
		return nil, wrap(ErrUnauthenticated, ErrMalformed)
	}

	entry, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, wrap(ErrUnauthenticated, mapSessionError(err))
		}
		return nil, wrap(ErrDependencyUnavailable, err)
	}
	if entry.UserID != claims.UserID() {
		return nil, ErrUnauthenticated
	}

	user, err := e.credentials.GetByID(ctx, entry.UserID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, wrap(ErrUnauthenticated, ErrUserNotFound)
		}
		return nil, wrap(ErrDependencyUnavailable, err)
	}
	if !user.Active {
		return nil, ErrUnauthenticated
	}

	return &Principal{User: user, Session: *entry}, nil
}

// RequireUser authenticates the token carried by r.
func (e *Engine) RequireUser(r *http.Request) (*Principal, error) {
	if r == nil {
		return nil, ErrUnauthenticated
	}
	return e.Authenticate(r.Context(), e.TokenFromRequest(r))
}

// RequireAdmin is RequireUser followed by a role check. A valid non-admin
// caller gets ErrForbidden.
func (e *Engine) RequireAdmin(r *http.Request) (*Principal, error) {
	principal, err := e.RequireUser(r)
	if err != nil {
		return nil, err
	}
	if !principal.User.IsAdmin() {
		e.metricInc(MetricGuardForbidden)
		e.emitAudit(r.Context(), AuditEvent{
			EventType: AuditAuthorizationDenied,
			UserID:    principal.User.ID,
			SessionID: principal.Session.SessionID,
			Error:     auditError(ErrForbidden),
			Metadata:  map[string]string{"path": r.URL.Path},
		})
		return nil, ErrForbidden
	}
	return principal, nil
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the session cookie.
func (e *Engine) TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if e == nil {
		return ""
	}
	cookie, err := r.Cookie(e.config.Cookie.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
