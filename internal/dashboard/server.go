package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/cogdash/internal/api"
	"github.com/rickgao/cogdash/internal/stream"
)

// StreamStatus is the part of the stream manager the server reports on.
type StreamStatus interface {
	State() stream.State
	URL() string
	Pending() int
	ReconnectAttempt() int
}

// HealthChecker probes the backend API.
type HealthChecker interface {
	Health(ctx context.Context) (*api.HealthStatus, error)
}

// breakerReporter is implemented by checkers that sit behind a circuit breaker.
type breakerReporter interface {
	BreakerState() string
}

// Server exposes GET /health and GET /state.
type Server struct {
	state   *State
	stream  StreamStatus
	backend HealthChecker
	logger  *slog.Logger
	router  chi.Router
}

// NewServer creates the status server. backend may be nil.
func NewServer(state *State, st StreamStatus, backend HealthChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		state:   state,
		stream:  st,
		backend: backend,
		logger:  logger.With("component", "status"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	s.router = r

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting status server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := healthResponse{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	state := s.stream.State()
	health.Components["stream"] = map[string]any{
		"state":             state.String(),
		"url":               s.stream.URL(),
		"pending":           s.stream.Pending(),
		"reconnect_attempt": s.stream.ReconnectAttempt(),
	}
	switch state {
	case stream.StateConnected:
	case stream.StateFailed:
		health.Status = "unhealthy"
	default:
		health.Status = "degraded"
	}

	if s.backend != nil {
		backend := make(map[string]string)
		hs, err := s.backend.Health(ctx)
		if err != nil {
			backend["status"] = "unreachable"
			backend["error"] = err.Error()
		} else {
			backend["status"] = hs.Status
		}
		if (err != nil || !hs.Healthy()) && health.Status == "healthy" {
			health.Status = "degraded"
		}
		if br, ok := s.backend.(breakerReporter); ok {
			backend["breaker"] = br.BreakerState()
		}
		health.Components["backend"] = backend
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}
