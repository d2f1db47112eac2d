package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fleetyard/fleetauth"
	"github.com/fleetyard/fleetauth/internal/maintenance"
	"github.com/fleetyard/fleetauth/middleware"
)

// Operations are the admin maintenance jobs.
type Operations interface {
	Backup(ctx context.Context) (maintenance.BackupResult, error)
	Cleanup(ctx context.Context) (maintenance.CleanupResult, error)
}

type Options struct {
	Engine     *fleetauth.Engine
	Operations Operations
	Logger     *zap.Logger
	// TrustProxy honors X-Forwarded-For and X-Real-IP for client IPs.
	TrustProxy bool
	// Metrics, when set, is mounted at GET /metrics outside the auth
	// interceptors.
	Metrics http.Handler
}

// Server routes the auth and admin endpoints.
type Server struct {
	engine   *fleetauth.Engine
	ops      Operations
	logger   *zap.Logger
	validate *validator.Validate
	cookie   fleetauth.CookieConfig
	handler  http.Handler
}

// userPaths require a live session. Everything under /admin also
// requires the admin role.
var userPaths = []string{
	"/auth/me",
	"/auth/history",
	"/auth/logout",
	"/auth/logout-all",
	"/auth/password/change",
}

func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if opts.Operations == nil {
		return nil, errors.New("httpapi: operations are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		engine:   opts.Engine,
		ops:      opts.Operations,
		logger:   logger.Named("http"),
		validate: validator.New(),
		cookie:   opts.Engine.Config().Cookie,
	}

	users, err := middleware.New(middleware.Config{
		Policy:   middleware.PolicyEnforce,
		Patterns: userPaths,
		Guards:   []middleware.Guard{middleware.UserGuard(s.engine)},
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}
	admins, err := middleware.New(middleware.Config{
		Policy:   middleware.PolicyEnforce,
		Patterns: []string{"/admin/*"},
		Guards:   []middleware.Guard{middleware.UserGuard(s.engine), middleware.AdminGuard(s.engine)},
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusNotFound, fleetauth.ErrorResponse{Code: "not_found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusMethodNotAllowed, fleetauth.ErrorResponse{Code: "method_not_allowed"})
	})
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	s.authRoutes(r.PathPrefix("/auth").Subrouter())
	s.adminRoutes(r.PathPrefix("/admin").Subrouter())

	s.handler = middleware.Chain(r,
		middleware.WithRequestID,
		middleware.WithRecover(s.logger),
		middleware.WithAccessLog(s.logger),
		middleware.WithClientContext(opts.TrustProxy),
		users.Wrap,
		admins.Wrap,
	)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// fail writes err and logs anything that is not an expected client error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := fleetauth.ClassifyError(err)
	if resp.Status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("code", resp.Code),
			zap.Error(err),
		)
	}
	middleware.WriteError(w, err)
}

func principal(r *http.Request) *fleetauth.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}
