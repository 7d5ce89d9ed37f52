// Package httpapi serves Prometheus metrics and a health endpoint for the
// submission server.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/migadu/submitd/logger"
	"github.com/migadu/submitd/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP status server
type Server struct {
	addr         string
	metricsPath  string
	allowedHosts []string
	stats        server.ConnectionStatsProvider
	version      string
	started      time.Time
	server       *http.Server
}

// ServerOptions holds configuration options for the HTTP status server
type ServerOptions struct {
	Addr         string
	MetricsPath  string
	AllowedHosts []string
	Version      string
}

// New creates a new HTTP status server. stats may be nil.
func New(stats server.ConnectionStatsProvider, options ServerOptions) (*Server, error) {
	if options.Addr == "" {
		return nil, fmt.Errorf("listen address is required for HTTP status server")
	}
	for _, host := range options.AllowedHosts {
		if strings.Contains(host, "/") {
			if _, _, err := net.ParseCIDR(host); err != nil {
				return nil, fmt.Errorf("invalid allowed host %q: %w", host, err)
			}
		} else if net.ParseIP(host) == nil {
			return nil, fmt.Errorf("invalid allowed host %q", host)
		}
	}

	path := options.MetricsPath
	if path == "" {
		path = "/metrics"
	}

	return &Server{
		addr:         options.Addr,
		metricsPath:  path,
		allowedHosts: options.AllowedHosts,
		stats:        stats,
		version:      options.Version,
		started:      time.Now(),
	}, nil
}

// Start runs the server until ctx is done and reports failures on errChan.
func Start(ctx context.Context, stats server.ConnectionStatsProvider, options ServerOptions, errChan chan error) {
	s, err := New(stats, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP status server: %w", err)
		return
	}

	logger.Info("HTTP: status server listening", "addr", options.Addr, "metrics_path", s.metricsPath)
	if err := s.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP status server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("HTTP: shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP: error shutting down status server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)

	router.Handle(s.metricsPath, promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/v1/connections/stats", s.handleConnectionStats).Methods("GET")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP: request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)

		for _, allowed := range s.allowedHosts {
			if allowed == host {
				next.ServeHTTP(w, r)
				return
			}
			if strings.Contains(allowed, "/") && ip != nil {
				if _, cidr, err := net.ParseCIDR(allowed); err == nil && cidr.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		s.writeError(w, http.StatusForbidden, "Host not allowed")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleConnectionStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Connection statistics not available")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{
		"total_connections":  s.stats.GetTotalConnections(),
		"active_connections": s.stats.GetActiveConnections(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("HTTP: error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
