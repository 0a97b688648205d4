// Package http serves health probes and a read-through token lookup endpoint.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/ports/inbound"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string

	Logger *slog.Logger

	ReadTimeout time.Duration

	// WriteTimeout must cover a cold lookup that goes all the way to the origin.
	WriteTimeout time.Duration
}

// ServerConfigDefaults returns a config with default values.
func ServerConfigDefaults() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server exposes:
//   - GET /health/ready  - 200 once the checker reports ready
//   - GET /health/live   - 200 while the checker reports healthy
//   - GET /health        - combined status
//   - GET /tokens/{chainId}/{address} - cached metadata, when a service is set
//
// All probes return 503 once shuttingDown is set so the load balancer drains
// the task before it stops.
type Server struct {
	server       *http.Server
	checker      inbound.HealthChecker
	tokens       inbound.TokenMetadataService
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewServer creates a server. tokens may be nil, in which case only the
// health endpoints are registered.
func NewServer(config ServerConfig, checker inbound.HealthChecker, shuttingDown *atomic.Bool, tokens inbound.TokenMetadataService) *Server {
	defaults := ServerConfigDefaults()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if shuttingDown == nil {
		shuttingDown = new(atomic.Bool)
	}

	s := &Server{
		checker:      checker,
		tokens:       tokens,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "http-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health", s.handleHealth)
	if tokens != nil {
		mux.HandleFunc("GET /tokens/{chainId}/{address}", s.handleToken)
	}

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler returns the routing handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins listening in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting http server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsReady() {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	} else {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsHealthy() {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	} else {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "shutting_down",
			"ready":        false,
			"healthy":      false,
			"shuttingDown": true,
		})
		return
	}

	ready := s.checker.IsReady()
	healthy := s.checker.IsHealthy()
	status := "ok"
	statusCode := http.StatusOK
	if !ready || !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"shuttingDown": false,
	})
}

// handleToken maps errors onto status codes: bad input 400, unusable token
// metadata 422, storage outage 503, anything else 502.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(r.PathValue("chainId"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "chainId must be an integer")
		return
	}
	key, err := entity.NewHashKey(chainID, r.PathValue("address"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.tokens.GetOrAdd(r.Context(), key)
	if err != nil {
		var qe *entity.QueryError
		switch {
		case errors.As(err, &qe):
			s.respondError(w, http.StatusUnprocessableEntity, qe.Error())
		case errors.Is(err, outbound.ErrBackendUnavailable):
			s.respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		default:
			s.logger.Error("token lookup failed", "chainId", chainID, "address", key.Address.Hex(), "error", err)
			s.respondError(w, http.StatusBadGateway, "lookup failed")
		}
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}
