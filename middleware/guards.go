package middleware

import (
	"context"
	"net/http"

	"github.com/fleetyard/fleetauth"
	"github.com/fleetyard/fleetauth/credential"
)

type principalContextKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *fleetauth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (*fleetauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*fleetauth.Principal)
	return p, ok && p != nil
}

// UserFromContext returns the account resolved by a guard.
func UserFromContext(ctx context.Context) (credential.User, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return credential.User{}, false
	}
	return p.User, true
}

// UserGuard requires a valid token backed by a live session.
func UserGuard(engine *fleetauth.Engine) Guard {
	return Guard{
		Name: "user",
		Check: func(r *http.Request) (*http.Request, error) {
			p, err := engine.RequireUser(r)
			if err != nil {
				return nil, err
			}
			return r.WithContext(WithPrincipal(r.Context(), p)), nil
		},
	}
}

// AdminGuard requires an admin caller. When an earlier guard already
// resolved the principal only the role is checked.
func AdminGuard(engine *fleetauth.Engine) Guard {
	return Guard{
		Name: "admin",
		Check: func(r *http.Request) (*http.Request, error) {
			if p, ok := PrincipalFromContext(r.Context()); ok {
				if !p.User.IsAdmin() {
					return nil, fleetauth.ErrForbidden
				}
				return r, nil
			}
			p, err := engine.RequireAdmin(r)
			if err != nil {
				return nil, err
			}
			return r.WithContext(WithPrincipal(r.Context(), p)), nil
		},
	}
}
