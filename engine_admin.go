package fleetauth

import (
	"context"

	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/session"
	"go.uber.org/zap"
)

// GetUser returns the account with the given id.
func (e *Engine) GetUser(ctx context.Context, userID string) (credential.User, error) {
	if err := e.ready(); err != nil {
		return credential.User{}, err
	}
	user, err := e.credentials.GetByID(ctx, userID)
	if err != nil {
		return credential.User{}, mapCredentialError(err)
	}
	return user, nil
}

// SetRole changes the role of userID and revokes all of its sessions so
// the new role applies from the next login.
func (e *Engine) SetRole(ctx context.Context, userID string, role credential.Role) (credential.User, error) {
	if err := e.ready(); err != nil {
		return credential.User{}, err
	}
	user, err := e.credentials.SetRole(ctx, userID, role)
	if err != nil {
		return credential.User{}, mapCredentialError(err)
	}
	if _, err := e.revokeAll(ctx, userID); err != nil {
		return user, err
	}

	e.metricInc(MetricRoleChanged)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRoleChange,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"role": string(role)},
	})
	return user, nil
}

// Deactivate disables the account and revokes all of its sessions.
func (e *Engine) Deactivate(ctx context.Context, userID string) (credential.User, error) {
	if err := e.ready(); err != nil {
		return credential.User{}, err
	}
	user, err := e.credentials.Deactivate(ctx, userID)
	if err != nil {
		return credential.User{}, mapCredentialError(err)
	}
	if _, err := e.revokeAll(ctx, userID); err != nil {
		return user, err
	}

	e.metricInc(MetricAccountDeactivated)
	e.emitAudit(ctx, AuditEvent{EventType: AuditDeactivate, UserID: userID, Success: true})
	return user, nil
}

// ListSessions returns the live sessions of userID, oldest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]session.Entry, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	entries, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return entries, nil
}

// RevokeSession revokes one session of userID. A session belonging to
// another user is reported as not found.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	entry, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return mapSessionError(err)
	}
	if entry.UserID != userID {
		return ErrSessionNotFound
	}
	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		return mapSessionError(err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSessionRevoke, UserID: userID, SessionID: sessionID, Success: true})
	return nil
}

type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweep removes expired sessions and challenges from stores that keep
// them in process. Redis backends expire keys on their own and are
// skipped.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	total := 0
	for name, store := range map[string]any{"sessions": e.sessions, "codes": e.codes} {
		s, ok := store.(sweeper)
		if !ok {
			continue
		}
		n, err := s.Sweep(ctx)
		if err != nil {
			return total, err
		}
		if n > 0 {
			e.logger.Debug("sweep removed expired entries", zap.String("store", name), zap.Int("removed", n))
		}
		total += n
	}
	if e.metrics != nil {
		e.metrics.Add(MetricSweepRemoved, uint64(total))
	}
	return total, nil
}
