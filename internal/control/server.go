// Package control exposes the local JSON API the UI talks to: tracking
// commands, raw position ingress, sync triggers and readiness progress.
package control

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/offline"
	"github.com/strakata/trailtracker/internal/readiness"
	"github.com/strakata/trailtracker/internal/session"
	"github.com/strakata/trailtracker/internal/tracker"
)

// Config holds the control server configuration.
type Config struct {
	ListenAddr string
}

// Server is the local control API server. It binds to loopback by default;
// there is no authentication layer, exposure beyond the device is a
// deployment mistake.
type Server struct {
	config    Config
	tracker   *tracker.Tracker
	syncer    *offline.Syncer
	readiness *readiness.Orchestrator
	sessions  *session.Store
	server    *http.Server
	router    *mux.Router
	listener  net.Listener
	logger    zerolog.Logger
}

// NewServer creates a control server.
func NewServer(cfg Config, tr *tracker.Tracker, syncer *offline.Syncer, ro *readiness.Orchestrator, sessions *session.Store, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:    cfg,
		tracker:   tr,
		syncer:    syncer,
		readiness: ro,
		sessions:  sessions,
		router:    router,
		logger:    logger.With().Str("component", "control").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/track/start", s.handleStart).Methods("POST")
	s.router.HandleFunc("/api/track/pause", s.handlePause).Methods("POST")
	s.router.HandleFunc("/api/track/resume", s.handleResume).Methods("POST")
	s.router.HandleFunc("/api/track/stop", s.handleStop).Methods("POST")
	s.router.HandleFunc("/api/track/reset", s.handleReset).Methods("POST")
	s.router.HandleFunc("/api/track/position", s.handlePosition).Methods("POST")
	s.router.HandleFunc("/api/track/error", s.handlePositionError).Methods("POST")
	s.router.HandleFunc("/api/track/status", s.handleStatus).Methods("GET")

	s.router.HandleFunc("/api/sync", s.handleSync).Methods("POST")
	s.router.HandleFunc("/api/sessions", s.handleSessions).Methods("GET")
	s.router.HandleFunc("/api/settings", s.handleGetSettings).Methods("GET")
	s.router.HandleFunc("/api/settings", s.handlePutSettings).Methods("PUT")

	s.router.HandleFunc("/api/readiness", s.handleReadiness).Methods("GET")
	s.router.HandleFunc("/api/readiness/skip", s.handleReadinessSkip).Methods("POST")
}

// SetListener provides a pre-bound listener, used for systemd socket
// activation. Must be called before Start.
func (s *Server) SetListener(l net.Listener) {
	s.listener = l
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	if s.listener != nil {
		s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Control API listening on activated socket")
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	}

	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Control API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
