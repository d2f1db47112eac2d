package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/fleetyard/fleetauth"
	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/middleware"
)

type statusResponse struct {
	Status string `json:"status"`
}

type userResponse struct {
	User credential.User `json:"user"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      credential.User `json:"user"`
}

type revokedResponse struct {
	Revoked int `json:"revoked"`
}

func (s *Server) authRoutes(r *mux.Router) {
	r.HandleFunc("/signup", s.signup).Methods(http.MethodPost)
	r.HandleFunc("/signup/verify", s.confirmSignup).Methods(http.MethodPost)
	r.HandleFunc("/signup/resend", s.resendSignup).Methods(http.MethodPost)
	r.HandleFunc("/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	r.HandleFunc("/logout-all", s.logoutAll).Methods(http.MethodPost)
	r.HandleFunc("/me", s.me).Methods(http.MethodGet)
	r.HandleFunc("/history", s.history).Methods(http.MethodGet)
	r.HandleFunc("/password/change", s.changePassword).Methods(http.MethodPost)
	r.HandleFunc("/password/reset/request", s.requestReset).Methods(http.MethodPost)
	r.HandleFunc("/password/reset/confirm", s.confirmReset).Methods(http.MethodPost)
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	body, err := DecodeValidBody[credentialsBody](s, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.engine.Signup(r.Context(), body.Email, body.Password)
	if err != nil {
		// The account exists even when the code could not be sent; the
		// client retries through /auth/signup/resend.
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, userResponse{User: user})
}

func (s *Server) confirmSignup(w http.ResponseWriter, r *http.Request) {
	body, err := DecodeValidBody[codeBody](s, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.engine.ConfirmSignup(r.Context(), body.Email, body.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userResponse{User: user})
}

func (s *Server) resendSignup(w http.ResponseWriter, r *http.Request) {
	body, err := DecodeValidBody[emailBody](s, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.ResendSignupCode(r.Context(), body.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, statusResponse{Status: "accepted"})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	body, err := DecodeValidBody[credentialsBody](s, r)
	if err != nil {
		// Malformed logins look like any other failed login.
		s.fail(w, r, errors.Join(fleetauth.ErrInvalidCredentials, err))
		return
	}
	res, err := s.engine.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.SetCookie(w, s.sessionCookie(res.Token, res.ExpiresAt))
	middleware.WriteJSON(w, http.StatusOK, loginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, User: res.User})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := s.engine.Logout(r.Context(), p.Session.SessionID); err != nil {
		s.fail(w, r, err)
		return
	}
	http.SetCookie(w, s.clearCookie())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	n, err := s.engine.LogoutAll(r.Context(), p.User.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.SetCookie(w, s.clearCookie())
	middleware.WriteJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, userResponse{User: principal(r).User})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.LoginHistory(r.Context(), principal(r).User.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if records == nil {
		records = []credential.LoginRecord{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	body, err := DecodeValidBody[changePasswordBody](s, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.ChangePassword(r.Context(), principal(r).User.ID, body.OldPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	http.SetCookie(w, s.clearCookie())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requestReset(w http.ResponseWriter, r *http.Request) {
	body, err := DecodeValidBody[emailBody](s, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), body.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, statusResponse{Status: "accepted"})
}

func (s *Server) confirmReset(w http.ResponseWriter, r *http.Request) {
	body, err := DecodeValidBody[resetConfirmBody](s, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.ConfirmPasswordReset(r.Context(), body.Email, body.Code, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookie.Name,
		Value:    token,
		Path:     s.cookie.Path,
		Domain:   s.cookie.Domain,
		Expires:  expiresAt,
		Secure:   s.cookie.Secure,
		HttpOnly: true,
		SameSite: sameSite(s.cookie.SameSite),
	}
}

func (s *Server) clearCookie() *http.Cookie {
	c := s.sessionCookie("", time.Unix(0, 0))
	c.MaxAge = -1
	return c
}

func sameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
