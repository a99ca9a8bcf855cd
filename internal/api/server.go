package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"acsm-bridge/internal/config"
	"acsm-bridge/internal/logging"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP entry point. It owns request parsing and result
// mapping only; orchestration logic lives behind the ConversionService.
type Server struct {
	logger      *logrus.Logger
	router      *mux.Router
	httpServer  *http.Server
	converter   ConversionService
	history     HistoryReader // optional
	events      *EventHub     // optional
	identityDir string
	version     string
	startedAt   time.Time
	authEnabled bool
	authSecret  string
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, logger *logrus.Logger, converter ConversionService, historyReader HistoryReader, events *EventHub, version string) (*Server, error) {
	if converter == nil {
		return nil, fmt.Errorf("conversion service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	server := &Server{
		logger:      logger,
		router:      mux.NewRouter(),
		converter:   converter,
		history:     historyReader,
		events:      events,
		identityDir: cfg.IdentityDir,
		version:     version,
		startedAt:   time.Now(),
		authEnabled: cfg.APIServer.AuthEnabled,
		authSecret:  cfg.APIServer.AuthSecret,
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.APIServer.Host, cfg.APIServer.Port),
		Handler:      server.router,
		ReadTimeout:  time.Duration(cfg.APIServer.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.APIServer.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.APIServer.IdleTimeout) * time.Second,
	}

	return server, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/convert", s.handleConvert).Methods(http.MethodPost)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	if s.events != nil {
		v1.HandleFunc("/events", s.events.HandleWS).Methods(http.MethodGet)
	}
}

// Handler exposes the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and the event hub until the context ends,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	log := logging.NewServiceLogger(s.logger, "api-server")
	log.WithField("addr", s.httpServer.Addr).Info("Starting API server")

	if s.events != nil {
		go s.events.Run(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log.Info("Shutting down API server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}
