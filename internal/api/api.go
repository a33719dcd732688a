// Package api provides the HTTP status API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/keywatch/internal/alerting"
	"github.com/good-yellow-bee/keywatch/internal/api/health"
	"github.com/good-yellow-bee/keywatch/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address      string
	QueryTimeout time.Duration // Timeout for storage-backed API calls
	Verbose      bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
}

// Scanner is the scheduler surface exposed over HTTP.
type Scanner interface {
	Trigger(ctx context.Context) bool
	Running() bool
	LastReport() *alerting.RunReport
}

// Deps are the collaborators the API reads from. History and Scanner may
// be nil.
type Deps struct {
	Config      storage.ConfigSource
	States      storage.StateRepository
	Checkpoints storage.CheckpointRepository
	History     storage.HistoryRepository
	Scanner     Scanner
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	deps          Deps
	logger        *zap.Logger
	server        *http.Server
	healthHandler *health.Handler

	// baseCtx outlives individual requests so triggered scans are not
	// cancelled when the response is written.
	baseCtx context.Context
}

// New creates a new API server.
func New(cfg *Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config source is required")
	}
	if deps.States == nil || deps.Checkpoints == nil {
		return nil, fmt.Errorf("state and checkpoint storage are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		deps:          deps,
		logger:        logger.Named("api"),
		healthHandler: health.NewHandler(logger.Named("health")),
		baseCtx:       context.Background(),
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP API listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
