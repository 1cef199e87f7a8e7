// Package server exposes the anonymization engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
	"github.com/raaihank/llm-anonymizer/internal/audit"
	"github.com/raaihank/llm-anonymizer/internal/config"
	"github.com/raaihank/llm-anonymizer/internal/logger"
	"github.com/raaihank/llm-anonymizer/internal/session"
	"github.com/raaihank/llm-anonymizer/internal/websocket"
)

// Version is reported by /info and stamped at build time.
var Version = "0.1.0"

// Deps are the collaborators of a Server. Ledger, Hub and Gatherer are
// optional.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Engine   *anonymizer.Engine
	Sessions *session.Manager
	Ledger   *audit.Ledger
	Hub      *websocket.Hub
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP API server
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	engine   *anonymizer.Engine
	sessions *session.Manager
	ledger   *audit.Ledger
	hub      *websocket.Hub
	gatherer prometheus.Gatherer
	limiter  *RateLimiter
	router   *mux.Router
	server   *http.Server
	started  time.Time
}

// New creates a new server instance
func New(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Engine == nil || deps.Sessions == nil {
		return nil, errors.New("server requires config, engine and sessions")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   deps.Config,
		logger:   log.WithComponent("server"),
		engine:   deps.Engine,
		sessions: deps.Sessions,
		ledger:   deps.Ledger,
		hub:      deps.Hub,
		gatherer: gatherer,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}
	if deps.Config.RateLimit.Enabled {
		s.limiter = NewRateLimiter(deps.Config.RateLimit.RequestsPerMin, deps.Config.RateLimit.Burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	if s.hub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.hub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/anonymize", s.handleAnonymize).Methods(http.MethodPost)
	api.HandleFunc("/documents/anonymize", s.handleAnonymizeDocument).Methods(http.MethodPost)
	api.HandleFunc("/deanonymize", s.handleDeAnonymize).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/restore", s.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/mapping", s.handleMapping).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleBurnAll).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}", s.handleBurn).Methods(http.MethodDelete)
	api.HandleFunc("/audit/events", s.handleAuditEvents).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and the rate limiter cleanup until ctx is done and
// serves HTTP until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting anonymizer server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("entity_source_ready", s.engine.Source().Ready()),
		zap.Bool("audit_enabled", s.ledger != nil),
	)

	if s.hub != nil {
		go s.hub.Run(ctx)
	}
	if s.limiter != nil {
		s.limiter.StartCleanupRoutine(ctx)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping anonymizer server")
	return s.server.Shutdown(ctx)
}
