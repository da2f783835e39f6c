// Package api provides the HTTP intake surface for the pipeline: uploads,
// progress queries, queue management, and operational endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amillerrr/vod-pipeline/internal/config"
	"github.com/amillerrr/vod-pipeline/internal/health"
)

// Server configuration constants
const (
	ReadTimeout       = 30 * time.Second
	ReadHeaderTimeout = 10 * time.Second
	WriteTimeout      = 300 * time.Second
	IdleTimeout       = 120 * time.Second
	MaxHeaderBytes    = 1 << 20 // 1 MB
)

// Server hosts the intake API and a separate internal metrics listener.
type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	cfg           *config.Config
	log           *slog.Logger
}

// ServerConfig holds dependencies for the server.
type ServerConfig struct {
	Config        *config.Config
	Logger        *slog.Logger
	Handlers      *Handlers
	HealthChecker *health.Checker
}

// NewServer creates the API server and wires all routes.
func NewServer(cfg *ServerConfig) *Server {
	h := cfg.Handlers

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", cfg.HealthChecker.Handler())
	mux.HandleFunc("GET /health/deep", cfg.HealthChecker.DeepHandler())

	mux.HandleFunc("POST /upload", MetricsMiddleware("/upload", h.UploadHandler))
	mux.HandleFunc("POST /upload/chunk", MetricsMiddleware("/upload/chunk", h.ChunkHandler))
	mux.HandleFunc("POST /upload/finalize", MetricsMiddleware("/upload/finalize", h.FinalizeHandler))
	mux.HandleFunc("GET /progress/{id}", MetricsMiddleware("/progress", h.ProgressHandler))
	mux.HandleFunc("GET /queue", MetricsMiddleware("/queue", h.QueueHandler))
	mux.HandleFunc("GET /videos/{id}", MetricsMiddleware("/videos", h.VideoHandler))
	mux.HandleFunc("DELETE /queue/{id}", MetricsMiddleware("/queue/cancel", h.CancelHandler))
	mux.HandleFunc("POST /cleanup", MetricsMiddleware("/cleanup", h.CleanupHandler))

	handler := CORSMiddleware(cfg.Config.CORS.AllowedOrigins)(mux)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", internalOnlyMiddleware(promhttp.Handler()))

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Config.API.Port,
			Handler:           handler,
			ReadTimeout:       ReadTimeout,
			ReadHeaderTimeout: ReadHeaderTimeout,
			WriteTimeout:      WriteTimeout,
			IdleTimeout:       IdleTimeout,
			MaxHeaderBytes:    MaxHeaderBytes,
		},
		metricsServer: &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Config.API.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: ReadHeaderTimeout,
		},
		cfg: cfg.Config,
		log: cfg.Logger,
	}
}

// Start runs both listeners. It blocks until the main listener stops.
func (s *Server) Start() error {
	go func() {
		s.log.Info("Starting metrics server", "port", s.cfg.API.MetricsPort)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server failed", "error", err)
		}
	}()

	s.log.Info("Starting API server", "port", s.cfg.API.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down API server...")
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.log.Warn("Metrics server shutdown error", "error", err)
	}
	return s.httpServer.Shutdown(ctx)
}

// Private networks for internal-only middleware
var privateNetworks = []net.IPNet{
	{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(8, 32)},
	{IP: net.ParseIP("172.16.0.0"), Mask: net.CIDRMask(12, 32)},
	{IP: net.ParseIP("192.168.0.0"), Mask: net.CIDRMask(16, 32)},
	{IP: net.ParseIP("127.0.0.0"), Mask: net.CIDRMask(8, 32)},
}

// internalOnlyMiddleware restricts access to internal networks.
func internalOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deny if X-Forwarded-For is present (came through load balancer)
		if r.Header.Get("X-Forwarded-For") != "" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if isInternalRequest(r.RemoteAddr) {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

// isInternalRequest checks if the request is from an internal network.
func isInternalRequest(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return ip.IsLoopback()
}
