package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/middleware"
	"github.com/fleetyard/fleetauth/session"
)

type sessionsResponse struct {
	Sessions []session.Entry `json:"sessions"`
}

// adminRoutes are reachable only after the admin interceptor resolved an
// admin principal.
func (s *Server) adminRoutes(r *mux.Router) {
	r.HandleFunc("/backup", s.backup).Methods(http.MethodPost)
	r.HandleFunc("/cleanup", s.cleanup).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/sessions", s.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/role", s.setRole).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/revoke", s.revoke).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/deactivate", s.deactivate).Methods(http.MethodPost)
}

func (s *Server) backup(w http.ResponseWriter, r *http.Request) {
	res, err := s.ops.Backup(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("admin backup", zap.String("actor", principal(r).User.ID), zap.String("archive", res.Archive))
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "backup": res})
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.ops.Cleanup(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("admin cleanup", zap.String("actor", principal(r).User.ID))
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleanup": res})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListSessions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []session.Entry{}
	}
	middleware.WriteJSON(w, http.StatusOK, sessionsResponse{Sessions: entries})
}

func (s *Server) setRole(w http.ResponseWriter, r *http.Request) {
	body, err := DecodeValidBody[roleBody](s, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.engine.SetRole(r.Context(), mux.Vars(r)["id"], credential.Role(body.Role))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userResponse{User: user})
}

// revoke drops one session when session_id is given, otherwise all of
// the user's sessions. An empty body means all.
func (s *Server) revoke(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	var body revokeBody
	if r.ContentLength != 0 {
		var err error
		if body, err = DecodeValidBody[revokeBody](s, r); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	if body.SessionID != "" {
		if err := s.engine.RevokeSession(r.Context(), userID, body.SessionID); err != nil {
			s.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, revokedResponse{Revoked: 1})
		return
	}
	if _, err := s.engine.GetUser(r.Context(), userID); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.engine.LogoutAll(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (s *Server) deactivate(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.Deactivate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userResponse{User: user})
}
