// Package httpapi exposes the publish flow over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/ABCWORK9/mintydoc/internal/server/metrics"
	"github.com/ABCWORK9/mintydoc/internal/server/services"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type Server struct {
	uploads *services.UploadService
	reserve *services.ReservationService
	admin   *services.AdminService
	metrics *metrics.Collector
	secret  []byte
	log     logging.Logger

	router *mux.Router

	mu     sync.Mutex
	server *http.Server
}

type Option func(*Server)

// WithAdmin enables the operator routes, authenticated with HS256 tokens
// signed by secret.
func WithAdmin(admin *services.AdminService, secret []byte) Option {
	return func(s *Server) {
		s.admin = admin
		s.secret = secret
	}
}

// WithMetrics records request metrics and serves them at /metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func NewServer(uploads *services.UploadService, reserve *services.ReservationService, log logging.Logger, opts ...Option) *Server {
	s := &Server{
		uploads: uploads,
		reserve: reserve,
		log:     log.With("module", "httpapi"),
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.Use(s.instrument)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed"})
	})

	api := s.router.PathPrefix("/api").Subrouter()
	api.Methods(http.MethodPost).Path("/upload/initiate").HandlerFunc(s.handleInitiate)
	api.Methods(http.MethodPost).Path("/upload/presign-part").HandlerFunc(s.handlePresignPart)
	api.Methods(http.MethodPost).Path("/upload/complete").HandlerFunc(s.handleComplete)
	api.Methods(http.MethodPost).Path("/upload/abort").HandlerFunc(s.handleAbort)
	api.Methods(http.MethodPost).Path("/pricing/estimate").HandlerFunc(s.handleEstimate)
	api.Methods(http.MethodPost).Path("/reserve/intent").HandlerFunc(s.handleIntent)
	api.Methods(http.MethodGet).Path("/jobs/{id}").HandlerFunc(s.handleGetJob)

	if s.admin != nil {
		admin := s.router.PathPrefix("/admin").Subrouter()
		admin.Use(s.requireOperator)
		admin.Methods(http.MethodGet).Path("/jobs/{id}").HandlerFunc(s.handleAdminGetJob)
		admin.Methods(http.MethodPost).Path("/jobs/{id}/refund").HandlerFunc(s.handleRefund)
		admin.Methods(http.MethodPost).Path("/reservations/{id}/retry").HandlerFunc(s.handleRetry)
	}

	if s.metrics != nil {
		s.router.Methods(http.MethodGet).Path("/metrics").Handler(s.metrics.Handler())
	}
	s.router.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okBody{OK: true})
	})
}
