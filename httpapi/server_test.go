package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fleetyard/fleetauth"
	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/internal/maintenance"
	"github.com/fleetyard/fleetauth/mail"
	"github.com/fleetyard/fleetauth/password"
)

type fakeOps struct {
	backups int
	err     error
}

func (f *fakeOps) Backup(context.Context) (maintenance.BackupResult, error) {
	if f.err != nil {
		return maintenance.BackupResult{}, f.err
	}
	f.backups++
	return maintenance.BackupResult{Archive: "fleet-test.tar.gz", Files: 3}, nil
}

func (f *fakeOps) Cleanup(context.Context) (maintenance.CleanupResult, error) {
	return maintenance.CleanupResult{ExpiredRemoved: 2}, f.err
}

type testEnv struct {
	engine *fleetauth.Engine
	mail   *mail.Recorder
	ops    *fakeOps
	h      http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := fleetauth.DefaultConfig()
	cfg.JWT.Secret = []byte(strings.Repeat("k", 32))
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Audit.Enabled = false

	env := &testEnv{mail: mail.NewRecorder(), ops: &fakeOps{}}
	engine, err := fleetauth.New().
		WithConfig(cfg).
		WithUserRepository(credential.NewMemoryRepository()).
		WithMailer(env.mail).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine

	srv, err := New(Options{Engine: engine, Operations: env.ops})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.h = srv.Handler()
	return env
}

type call struct {
	method string
	path   string
	body   string
	token  string
	cookie *http.Cookie
}

func (env *testEnv) do(c call) *httptest.ResponseRecorder {
	var r *http.Request
	if c.body != "" {
		r = httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(c.method, c.path, nil)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != nil {
		r.AddCookie(c.cookie)
	}
	w := httptest.NewRecorder()
	env.h.ServeHTTP(w, r)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body.Error
}

// account signs up and verifies email through the engine, optionally
// promotes it, and returns a fresh token.
func (env *testEnv) account(t *testing.T, email string, admin bool) (credential.User, string) {
	t.Helper()
	ctx := context.Background()
	user, err := env.engine.Signup(ctx, email, "password-1")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	msg, _ := env.mail.Last(email, mail.TemplateSignupCode)
	if _, err := env.engine.ConfirmSignup(ctx, email, msg.Vars["code"]); err != nil {
		t.Fatalf("ConfirmSignup: %v", err)
	}
	if admin {
		if _, err := env.engine.SetRole(ctx, user.ID, credential.RoleAdmin); err != nil {
			t.Fatalf("SetRole: %v", err)
		}
	}
	res, err := env.engine.Login(ctx, email, "password-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res.User, res.Token
}

func TestAdminBackupEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, userToken := env.account(t, "user@x.com", false)
	_, adminToken := env.account(t, "admin@x.com", true)

	w := env.do(call{method: http.MethodPost, path: "/admin/backup", token: userToken})
	if w.Code != http.StatusForbidden || errorCode(t, w) != "forbidden" {
		t.Fatalf("non-admin: expected 403 forbidden, got %d %s", w.Code, w.Body)
	}

	w = env.do(call{method: http.MethodPost, path: "/admin/backup"})
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "unauthenticated" {
		t.Fatalf("no token: expected 401 unauthenticated, got %d %s", w.Code, w.Body)
	}

	w = env.do(call{method: http.MethodPost, path: "/admin/backup", token: adminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d %s", w.Code, w.Body)
	}
	var body struct {
		Status string                   `json:"status"`
		Backup maintenance.BackupResult `json:"backup"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Backup.Archive != "fleet-test.tar.gz" {
		t.Fatalf("unexpected payload %s", w.Body)
	}
	if env.ops.backups != 1 {
		t.Fatalf("expected exactly one backup run, got %d", env.ops.backups)
	}
}

func TestAdminRejectionsNeverRunOperation(t *testing.T) {
	env := newTestEnv(t)
	_, userToken := env.account(t, "user@x.com", false)

	for _, token := range []string{"", userToken, "not-a-jwt"} {
		env.do(call{method: http.MethodPost, path: "/admin/backup", token: token})
		env.do(call{method: http.MethodPost, path: "/admin/cleanup", token: token})
	}
	if env.ops.backups != 0 {
		t.Fatalf("expected no backups, got %d", env.ops.backups)
	}
}

func TestAdminOperationFailureHidesDetail(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account(t, "admin@x.com", true)
	env.ops.err = errors.New("disk full at /var/secret")

	w := env.do(call{method: http.MethodPost, path: "/admin/cleanup", token: adminToken})
	if w.Code != http.StatusInternalServerError || errorCode(t, w) != "internal" {
		t.Fatalf("expected 500 internal, got %d %s", w.Code, w.Body)
	}
	if strings.Contains(w.Body.String(), "disk") {
		t.Fatalf("error detail leaked: %s", w.Body)
	}
}

func TestSignupVerifyLoginWithCookie(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(call{method: http.MethodPost, path: "/auth/signup", body: `{"email":"A@x.com","password":"P@ss1234"}`})
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d %s", w.Code, w.Body)
	}

	w = env.do(call{method: http.MethodPost, path: "/auth/login", body: `{"email":"a@x.com","password":"P@ss1234"}`})
	if w.Code != http.StatusForbidden || errorCode(t, w) != "email_unverified" {
		t.Fatalf("unverified login: expected 403 email_unverified, got %d %s", w.Code, w.Body)
	}

	msg, ok := env.mail.Last("a@x.com", mail.TemplateSignupCode)
	if !ok {
		t.Fatal("expected a signup code")
	}
	w = env.do(call{method: http.MethodPost, path: "/auth/signup/verify", body: `{"email":"a@x.com","code":"` + msg.Vars["code"] + `"}`})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d %s", w.Code, w.Body)
	}
	w = env.do(call{method: http.MethodPost, path: "/auth/signup/verify", body: `{"email":"a@x.com","code":"` + msg.Vars["code"] + `"}`})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "code_mismatch" {
		t.Fatalf("replayed code: expected 400 code_mismatch, got %d %s", w.Code, w.Body)
	}

	w = env.do(call{method: http.MethodPost, path: "/auth/login", body: `{"email":"a@x.com","password":"P@ss1234"}`})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d %s", w.Code, w.Body)
	}
	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "fleet_session" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil || !sessionCookie.HttpOnly || !sessionCookie.Secure {
		t.Fatalf("expected secure http-only session cookie, got %+v", sessionCookie)
	}

	w = env.do(call{method: http.MethodGet, path: "/auth/me", cookie: sessionCookie})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"email":"a@x.com"`) {
		t.Fatalf("me: expected 200 with user, got %d %s", w.Code, w.Body)
	}

	w = env.do(call{method: http.MethodPost, path: "/auth/logout", cookie: sessionCookie})
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d %s", w.Code, w.Body)
	}
	w = env.do(call{method: http.MethodGet, path: "/auth/me", cookie: sessionCookie})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("after logout: expected 401, got %d", w.Code)
	}
}

func TestLoginFailuresLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "known@x.com", false)

	bodies := []string{
		`{"email":"known@x.com","password":"wrong-password"}`,
		`{"email":"unknown@x.com","password":"wrong-password"}`,
		`{"email":"not-an-email","password":"x"}`,
		`{`,
	}
	for _, b := range bodies {
		w := env.do(call{method: http.MethodPost, path: "/auth/login", body: b})
		if w.Code != http.StatusUnauthorized || errorCode(t, w) != "invalid_credentials" {
			t.Fatalf("%s: expected 401 invalid_credentials, got %d %s", b, w.Code, w.Body)
		}
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad email", "/auth/signup", `{"email":"nope","password":"password-1"}`},
		{"unknown field", "/auth/signup", `{"email":"a@x.com","password":"password-1","role":"admin"}`},
		{"empty body", "/auth/password/reset/request", ""},
		{"non numeric code", "/auth/signup/verify", `{"email":"a@x.com","code":"12ab56"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(call{method: http.MethodPost, path: tt.path, body: tt.body})
			if w.Code != http.StatusBadRequest || errorCode(t, w) != "invalid_request" {
				t.Fatalf("expected 400 invalid_request, got %d %s", w.Code, w.Body)
			}
		})
	}
}

func TestPasswordResetIsEnumerationSafe(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "known@x.com", false)

	for _, email := range []string{"known@x.com", "ghost@x.com"} {
		w := env.do(call{method: http.MethodPost, path: "/auth/password/reset/request", body: `{"email":"` + email + `"}`})
		if w.Code != http.StatusAccepted {
			t.Fatalf("%s: expected 202, got %d %s", email, w.Code, w.Body)
		}
	}
	if _, ok := env.mail.Last("ghost@x.com", mail.TemplateResetCode); ok {
		t.Fatal("no code may be sent to an unknown address")
	}

	msg, ok := env.mail.Last("known@x.com", mail.TemplateResetCode)
	if !ok {
		t.Fatal("expected reset code")
	}
	w := env.do(call{method: http.MethodPost, path: "/auth/password/reset/confirm",
		body: `{"email":"known@x.com","code":"` + msg.Vars["code"] + `","new_password":"brand-new-pw"}`})
	if w.Code != http.StatusNoContent {
		t.Fatalf("confirm: expected 204, got %d %s", w.Code, w.Body)
	}
	w = env.do(call{method: http.MethodPost, path: "/auth/login", body: `{"email":"known@x.com","password":"brand-new-pw"}`})
	if w.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d %s", w.Code, w.Body)
	}
}

func TestChangePasswordRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, "a@x.com", false)

	w := env.do(call{method: http.MethodPost, path: "/auth/password/change", token: token,
		body: `{"old_password":"password-1","new_password":"password-2"}`})
	if w.Code != http.StatusNoContent {
		t.Fatalf("change: expected 204, got %d %s", w.Code, w.Body)
	}
	w = env.do(call{method: http.MethodGet, path: "/auth/me", token: token})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("old token: expected 401, got %d", w.Code)
	}
}

func TestAdminUserManagement(t *testing.T) {
	env := newTestEnv(t)
	user, userToken := env.account(t, "user@x.com", false)
	_, adminToken := env.account(t, "admin@x.com", true)
	base := "/admin/users/" + user.ID

	w := env.do(call{method: http.MethodGet, path: base + "/sessions", token: adminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("sessions: expected 200, got %d %s", w.Code, w.Body)
	}
	var listed sessionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil || len(listed.Sessions) != 1 {
		t.Fatalf("expected one session, got %s (%v)", w.Body, err)
	}

	w = env.do(call{method: http.MethodPost, path: base + "/revoke", token: adminToken,
		body: `{"session_id":"` + listed.Sessions[0].SessionID + `"}`})
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d %s", w.Code, w.Body)
	}
	if w := env.do(call{method: http.MethodGet, path: "/auth/me", token: userToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token: expected 401, got %d", w.Code)
	}

	w = env.do(call{method: http.MethodPost, path: base + "/role", token: adminToken, body: `{"role":"root"}`})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad role: expected 400, got %d %s", w.Code, w.Body)
	}
	w = env.do(call{method: http.MethodPost, path: base + "/role", token: adminToken, body: `{"role":"admin"}`})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"role":"admin"`) {
		t.Fatalf("role: expected 200 admin, got %d %s", w.Code, w.Body)
	}

	w = env.do(call{method: http.MethodPost, path: base + "/deactivate", token: adminToken})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"active":false`) {
		t.Fatalf("deactivate: expected 200 inactive, got %d %s", w.Code, w.Body)
	}

	w = env.do(call{method: http.MethodPost, path: "/admin/users/missing/revoke", token: adminToken})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d %s", w.Code, w.Body)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(call{method: http.MethodGet, path: "/nowhere"})
	if w.Code != http.StatusNotFound || errorCode(t, w) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", w.Code, w.Body)
	}
}
