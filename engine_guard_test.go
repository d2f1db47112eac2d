package fleetauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/jwt"
	"github.com/fleetyard/fleetauth/password"
	"github.com/fleetyard/fleetauth/session"
)

func TestRequireAdmin(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	admin := env.signupVerified(t, "boss@fleet.io", "password-1")
	env.signupVerified(t, "driver@fleet.io", "password-1")
	if _, err := env.engine.SetRole(ctx, admin.ID, credential.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	adminLogin := env.login(t, "boss@fleet.io", "password-1")
	userLogin := env.login(t, "driver@fleet.io", "password-1")

	principal, err := env.engine.RequireAdmin(bearerRequest(adminLogin.Token))
	if err != nil {
		t.Fatalf("RequireAdmin(admin): %v", err)
	}
	if principal.User.Role != credential.RoleAdmin {
		t.Fatalf("unexpected principal %+v", principal)
	}

	_, err = env.engine.RequireAdmin(bearerRequest(userLogin.Token))
	if !errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}

	_, err = env.engine.RequireAdmin(bearerRequest(""))
	if !errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrUnauthenticated without carrier, got %v", err)
	}

	if _, err := env.engine.RequireAdmin(nil); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for nil request, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricGuardForbidden] != 1 {
		t.Fatalf("expected one forbidden decision, got %d", snap.Counters[MetricGuardForbidden])
	}
}

func TestRoleChangeRevokesSessions(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	user := env.signupVerified(t, "a@fleet.io", "password-1")
	res := env.login(t, "a@fleet.io", "password-1")

	if _, err := env.engine.SetRole(ctx, user.ID, credential.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if _, err := env.engine.RequireUser(bearerRequest(res.Token)); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	if _, err := env.engine.SetRole(ctx, user.ID, credential.Role("owner")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := env.engine.SetRole(ctx, "missing", credential.RoleUser); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestExpiredTokenIsExpiredNotSignatureInvalid(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.signupVerified(t, "a@fleet.io", "password-1")
	res := env.login(t, "a@fleet.io", "password-1")

	env.clock.Advance(12*time.Hour + time.Minute)

	_, err := env.engine.RequireUser(bearerRequest(res.Token))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if !errors.Is(err, ErrExpired) || !errors.Is(err, jwt.ErrExpired) {
		t.Fatalf("expected expiry cause, got %v", err)
	}
	if errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expired token must not report a bad signature: %v", err)
	}
	if got := ClassifyError(err); got.Code != "unauthenticated" || got.Message != "log in again" {
		t.Fatalf("unexpected classification %+v", got)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.signupVerified(t, "a@fleet.io", "password-1")
	res := env.login(t, "a@fleet.io", "password-1")

	parts := strings.Split(res.Token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err := env.engine.RequireUser(bearerRequest(tampered))
	if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	_, err = env.engine.RequireUser(bearerRequest("not-a-token"))
	if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed token, got %v", err)
	}
}

func TestTokenForeignSessionRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	alice := env.signupVerified(t, "alice@fleet.io", "password-1")
	env.signupVerified(t, "bob@fleet.io", "password-1")
	bobLogin := env.login(t, "bob@fleet.io", "password-1")

	// A correctly signed token that names alice but points at bob's session.
	token, _, err := env.engine.issuer.Issue(alice.ID, bobLogin.SessionID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestTokenWithoutSessionRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	user := env.signupVerified(t, "a@fleet.io", "password-1")

	sid, err := session.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	token, _, err := env.engine.issuer.Issue(user.ID, sid)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = env.engine.Authenticate(context.Background(), token)
	if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("a signed token alone must not authenticate, got %v", err)
	}
}

func TestTokenWithMalformedSessionIDRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	user := env.signupVerified(t, "a@fleet.io", "password-1")

	token, _, err := env.engine.issuer.Issue(user.ID, "not-a-session")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = env.engine.Authenticate(context.Background(), token)
	if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed session id rejection, got %v", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.signupVerified(t, "a@fleet.io", "password-1")
	res := env.login(t, "a@fleet.io", "password-1")

	cookieReq := httptest.NewRequest(http.MethodGet, "/", nil)
	cookieReq.AddCookie(&http.Cookie{Name: "fleet_session", Value: res.Token})
	if _, err := env.engine.RequireUser(cookieReq); err != nil {
		t.Fatalf("cookie carrier: %v", err)
	}

	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{name: "bearer", header: "Bearer abc", want: "abc"},
		{name: "bearer case", header: "bearer abc", want: "abc"},
		{name: "basic ignored", header: "Basic abc", cookie: "zzz", want: ""},
		{name: "cookie", cookie: "zzz", want: "zzz"},
		{name: "none", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "fleet_session", Value: tt.cookie})
			}
			if got := env.engine.TokenFromRequest(r); got != tt.want {
				t.Fatalf("TokenFromRequest = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserStoreOutageIsDependencyError(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.signupVerified(t, "a@fleet.io", "password-1")
	res := env.login(t, "a@fleet.io", "password-1")

	outage := &failingUsers{UserRepository: env.repo, err: credential.ErrUnavailable}
	hasher, err := password.NewHasher(testConfig().Password)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	store, err := credential.NewStore(outage, env.repo, hasher, env.clock.Now)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	env.engine.credentials = store

	_, err = env.engine.RequireUser(bearerRequest(res.Token))
	if !errors.Is(err, ErrDependencyUnavailable) || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
}

type failingUsers struct {
	credential.UserRepository
	err error
}

func (f *failingUsers) UserByID(context.Context, string) (credential.User, error) {
	return credential.User{}, f.err
}
