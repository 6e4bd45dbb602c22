// Package server wires the HTTP surface: hook endpoints for the external
// trigger gateway and a JWT-protected management API for units, credentials,
// and providers.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"automation-engine/internal/auth"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/gateway"
	"automation-engine/internal/providers"
	"automation-engine/internal/ratelimit"
	"automation-engine/internal/storage"
)

// Firer is the dispatch surface the manual trigger endpoint needs.
type Firer interface {
	Fire(ctx context.Context, unitID string, payload map[string]interface{}) error
}

// CredentialCache lets credential writes through the API invalidate the
// manager's cache. Satisfied by *credentials.Manager.
type CredentialCache interface {
	Invalidate(ownerID, providerID string)
}

// Server is the HTTP front of the engine.
type Server struct {
	store    storage.Store
	registry *providers.Registry
	gateway  *gateway.Gateway
	engine   Firer
	auth     *auth.Auth
	limiter  *ratelimit.Limiter
	creds    CredentialCache
	logger   logging.Logger

	httpServer *http.Server
}

// New creates a server listening on addr. limiter and creds may be nil.
func New(addr string, store storage.Store, registry *providers.Registry, gw *gateway.Gateway, engine Firer, authSvc *auth.Auth, limiter *ratelimit.Limiter, creds CredentialCache, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		store:    store,
		registry: registry,
		gateway:  gw,
		engine:   engine,
		auth:     authSvc,
		limiter:  limiter,
		creds:    creds,
		logger:   logger,
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Hook endpoints, authenticated by per-unit shared secrets.
	hooks := r.PathPrefix("/hooks").Subrouter()
	if s.limiter != nil {
		hooks.Use(s.limiter.HTTPMiddleware(ratelimit.IPBasedKey))
	}
	hooks.HandleFunc("/provider/{providerID}", s.handleProviderEvent).Methods(http.MethodPost)
	hooks.HandleFunc("/{unitID}", s.handleUnitEvent).Methods(http.MethodPost)

	// Management API, authenticated by JWT bearer tokens.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.auth.Middleware)
	api.HandleFunc("/providers", s.handleListProviders).Methods(http.MethodGet)
	api.HandleFunc("/units", s.handleCreateUnit).Methods(http.MethodPost)
	api.HandleFunc("/units", s.handleListUnits).Methods(http.MethodGet)
	api.HandleFunc("/units/{id}", s.handleGetUnit).Methods(http.MethodGet)
	api.HandleFunc("/units/{id}", s.handleUpdateUnit).Methods(http.MethodPut)
	api.HandleFunc("/units/{id}", s.handleDeleteUnit).Methods(http.MethodDelete)
	api.HandleFunc("/units/{id}/trigger", s.handleManualTrigger).Methods(http.MethodPost)
	api.HandleFunc("/credentials", s.handleSaveCredential).Methods(http.MethodPost)
	api.HandleFunc("/credentials/{providerID}", s.handleDeleteCredential).Methods(http.MethodDelete)

	r.Use(s.loggingMiddleware)
	return r
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", logging.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request handled",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}
