// Package api serves the scanner's public surface: a health endpoint,
// on-demand level computation and a websocket stream of level updates.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"hyperliquid-engine/internal/config"
)

// Server runs the HTTP/websocket API.
type Server struct {
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates the API server over the market-data adapters.
func NewServer(cfg config.ServerConfig, mids Mids, candles Candles, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(mids, candles, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/scanner/levels", handlers.HandleLevels)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Hub exposes the websocket hub so the scanner can publish into it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub and the HTTP listener; it blocks until the listener
// stops.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully drains the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
