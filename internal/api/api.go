// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/good-yellow-bee/flarewatch/internal/manager"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address        string
	RequestTimeout time.Duration // Timeout for storage-backed API calls
	Verbose        bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config  *Config
	manager *manager.Manager
	server  *http.Server
}

// New creates a new API server.
func New(cfg *Config, mgr *manager.Manager) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if mgr == nil {
		return nil, fmt.Errorf("manager is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:  cfg,
		manager: mgr,
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	log.Printf("api server listening on %s", s.config.Address)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("shutting down api server")
	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Address
}
