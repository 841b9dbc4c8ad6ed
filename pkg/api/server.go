package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

// Dependencies are the services the HTTP surface is built on
type Dependencies struct {
	Flow     *auth.Flow
	Resolver middleware.Resolver
	Orgs     orgs.Service
	Cookies  config.CookieConfig

	// SignInLimiter throttles password sign-in per client address. nil
	// disables throttling.
	SignInLimiter middleware.Limiter
	Metrics       *observability.Metrics
}

// Server represents the API server
type Server struct {
	router *mux.Router
	deps   Dependencies
}

// NewServer creates a new API server with all routes registered on router.
// A nil router gets a fresh one.
func NewServer(router *mux.Router, deps Dependencies) *Server {
	if router == nil {
		router = mux.NewRouter()
	}
	s := &Server{
		router: router,
		deps:   deps,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	session := middleware.NewSessionMiddleware(s.deps.Resolver, false)
	protect := func(r *mux.Router) *mux.Router {
		sub := r.NewRoute().Subrouter()
		sub.Use(session.Handler)
		sub.Use(middleware.OrgContextMiddleware(s.deps.Orgs))
		return sub
	}

	authHandlers := &AuthHandlers{flow: s.deps.Flow, cookies: s.deps.Cookies, limiter: s.deps.SignInLimiter, metrics: s.deps.Metrics}
	clientHandlers := &ClientHandlers{flow: s.deps.Flow, orgs: s.deps.Orgs}
	orgHandlers := &OrgHandlers{orgs: s.deps.Orgs}

	v1Auth := s.router.PathPrefix("/v1/auth").Subrouter()
	authHandlers.RegisterRoutes(v1Auth, protect(v1Auth))

	// The client mount carries the auth routes too
	v1Client := s.router.PathPrefix("/v1/client").Subrouter()
	authHandlers.RegisterRoutes(v1Client, protect(v1Client))
	clientHandlers.RegisterRoutes(protect(v1Client))

	v1 := s.router.PathPrefix("/v1").Subrouter()
	orgHandlers.RegisterRoutes(protect(v1))
}
