// Package server exposes the core API and mounts module routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/registry"
	"github.com/HerbHall/printfleet/internal/version"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// writeTimeout covers the slowest synchronous request, a fleet check or a
// print job with conversion.
const writeTimeout = 3 * time.Minute

// Server is the main PrintFleet server.
type Server struct {
	httpServer *http.Server
	registry   *registry.Registry
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a new Server instance.
func New(addr string, reg *registry.Registry, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       2 * time.Minute,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
		},
		registry: reg,
		logger:   logger,
		mux:      mux,
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "no route for "+r.Method+" "+r.URL.Path, r.URL.Path)
	})
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	allRoutes := s.registry.AllRoutes()
	for pluginName, routes := range allRoutes {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, s.recoverer(pluginName, route.Handler))
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// recoverer turns a panicking module handler into a 500 problem response.
// Hijacked connections are left to the handler.
func (s *Server) recoverer(pluginName string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("handler panicked",
				zap.String("plugin", pluginName),
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			InternalError(w, "the request could not be completed", r.URL.Path)
		}()
		h(w, r)
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Plugins map[string]plugin.HealthStatus `json:"plugins"`
}

// handleHealth reports overall health. Any unhealthy module makes the
// response 503; degraded modules only change the status field.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	plugins := s.registry.Health(r.Context())
	resp := healthResponse{
		Status:  "ok",
		Service: "printfleet",
		Version: version.Map(),
		Plugins: plugins,
	}
	code := http.StatusOK
	for _, h := range plugins {
		switch h.Status {
		case "unhealthy":
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		case "degraded":
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-PrintFleet-Version", version.Short())
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// handlePlugins returns the list of registered plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.registry.All()
	type pluginResponse struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description"`
	}
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		pi := p.Info()
		info = append(info, pluginResponse{
			Name:        pi.Name,
			Version:     pi.Version,
			Description: pi.Description,
		})
	}
	sort.Slice(info, func(i, j int) bool { return info[i].Name < info[j].Name })
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-PrintFleet-Version", version.Short())
	_ = json.NewEncoder(w).Encode(info)
}
