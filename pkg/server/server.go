// Package server exposes the metrics, liveness and readiness endpoints of a
// long-running checker.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/logger"
)

// StatusProvider reports engine progress. engine.Statistics implements it.
type StatusProvider interface {
	GetCyclesRun() int64
	GetLastCycle() time.Time
	Summary() map[string]interface{}
}

// Config contains configuration for the server.
type Config struct {
	BindAddress string
	Port        int

	// MetricsPath is where MetricsHandler is mounted. Metrics are not
	// served when MetricsHandler is nil.
	MetricsPath    string
	MetricsHandler http.Handler

	// StaleAfter marks the checker unhealthy when no cycle completed for
	// this long. Zero disables the check.
	StaleAfter time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves /healthz, /ready, /status and the metrics path.
type Server struct {
	config    Config
	status    StatusProvider
	router    chi.Router
	startTime time.Time
	log       *logrus.Entry

	// now is replaced in tests.
	now func() time.Time

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// HealthResponse represents the JSON response for /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Message   string    `json:"message,omitempty"`
}

// ReadinessResponse represents the JSON response for /ready.
type ReadinessResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// New creates a server. status may be nil, in which case the checker is
// always ready.
func New(config Config, status StatusProvider) (*Server, error) {
	if config.BindAddress == "" {
		config.BindAddress = "0.0.0.0"
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("port must be in range 0-65535, got %d", config.Port)
	}
	if config.MetricsHandler != nil && config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	s := &Server{
		config:    config,
		status:    status,
		startTime: time.Now(),
		log:       logger.ForComponent("server"),
		now:       time.Now,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ready", s.handleReady)
	r.Get("/status", s.handleStatus)
	if s.config.MetricsHandler != nil {
		r.Method(http.MethodGet, s.config.MetricsPath, s.config.MetricsHandler)
	}
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	addr := net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.httpServer = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed")
		}
	}()

	s.log.WithField("address", ln.Addr().String()).Info("Server started")
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.httpServer = nil
	s.listener = nil
	s.log.Info("Server stopped")
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	response := HealthResponse{
		Status:    "ok",
		Timestamp: now,
		Uptime:    now.Sub(s.startTime).Round(time.Second).String(),
	}

	code := http.StatusOK
	if s.status != nil && s.config.StaleAfter > 0 && s.status.GetCyclesRun() > 0 {
		if age := now.Sub(s.status.GetLastCycle()); age > s.config.StaleAfter {
			response.Status = "unhealthy"
			response.Message = fmt.Sprintf("last cycle completed %s ago", age.Round(time.Second))
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, response)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	response := ReadinessResponse{Ready: true, Timestamp: s.now(), Message: "Ready"}
	code := http.StatusOK
	if s.status != nil && s.status.GetCyclesRun() == 0 {
		response.Ready = false
		response.Message = "Not ready: no check cycle completed yet"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"started_at": s.startTime.Format(time.RFC3339),
	}
	if s.status != nil {
		body["engine"] = s.status.Summary()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
