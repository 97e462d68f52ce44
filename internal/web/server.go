// internal/web/server.go
//
// Package web is the HTTP adapter: health, controller listing, metrics and a
// websocket event stream.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tamzrod/classic-monitor/internal/status"
	"github.com/tamzrod/classic-monitor/internal/supervisor"
)

// Controllers lists the monitored controllers.
type Controllers interface {
	Controllers() []supervisor.Controller
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithAllowedOrigins sets the websocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// Server is the http.Handler of the monitor.
type Server struct {
	controllers    Controllers
	hub            *Hub
	metrics        http.Handler
	allowedOrigins []string
	logger         *slog.Logger
	mux            *http.ServeMux
	wg             sync.WaitGroup
}

// NewServer builds the handler and starts the hub loop.
func NewServer(controllers Controllers, hub *Hub, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		controllers: controllers,
		hub:         hub,
		logger:      logger.With("component", "http"),
		mux:         http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	s.routes()
	return s
}

// Stop shuts the hub down and waits for its loop.
func (s *Server) Stop() {
	s.hub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/controllers", s.handleControllers)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// controllerView is the listing row.
type controllerView struct {
	Endpoint string  `json:"endpoint"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	State    string  `json:"state"`
	Ready    bool    `json:"ready"`
	Static   bool    `json:"static"`
	Health   string  `json:"health"`
	Error    uint16  `json:"error_code"`
	Seconds  uint16  `json:"seconds_in_error"`
	Model    string  `json:"model,omitempty"`
	Firmware string  `json:"firmware,omitempty"`
	Serial   uint32  `json:"serial,omitempty"`
	LastVOC  float64 `json:"last_voc,omitempty"`
}

func (s *Server) handleControllers(w http.ResponseWriter, _ *http.Request) {
	list := s.controllers.Controllers()
	out := make([]controllerView, 0, len(list))
	for _, c := range list {
		out = append(out, controllerView{
			Endpoint: c.Endpoint.String(),
			Name:     c.Name,
			Type:     c.Info.Type.String(),
			State:    c.State,
			Ready:    c.Ready,
			Static:   c.Static,
			Health:   status.HealthName(c.Health.Health),
			Error:    c.Health.LastErrorCode,
			Seconds:  c.Health.SecondsInError,
			Model:    c.Info.Model,
			Firmware: c.Info.AppVersion,
			Serial:   c.Info.SerialNumber,
			LastVOC:  c.Info.LastVOC,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
