// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api serves the agent ingest, dashboard, and admin HTTP surface.
package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llw2011/oc-monitor/internal/aggregator"
	"github.com/llw2011/oc-monitor/internal/alerting"
	"github.com/llw2011/oc-monitor/internal/auth"
	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/config"
	"github.com/llw2011/oc-monitor/internal/logging"
	"github.com/llw2011/oc-monitor/internal/metrics"
	"github.com/llw2011/oc-monitor/internal/notification"
	"github.com/llw2011/oc-monitor/internal/providers"
	"github.com/llw2011/oc-monitor/internal/retention"
	"github.com/llw2011/oc-monitor/internal/store"
)

// ServerConfig holds HTTP hardening limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns the default limits. WriteTimeout stays zero
// because websocket connections outlive any sane response deadline.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      1 << 20,
	}
}

// Server handles API requests.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	agg        *aggregator.Aggregator
	engine     *alerting.Engine
	authority  *auth.Authority
	viewer     *auth.Viewer
	providers  *providers.Service
	retention  *retention.Manager
	dispatcher *notification.Dispatcher
	metrics    *metrics.Metrics
	logger     *logging.Logger
	hub        *Hub
	startTime  time.Time

	mux *http.ServeMux
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Config     *config.Config
	Store      *store.Store
	Aggregator *aggregator.Aggregator
	Engine     *alerting.Engine
	Authority  *auth.Authority
	Providers  *providers.Service
	Retention  *retention.Manager
	Dispatcher *notification.Dispatcher
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// NewServer creates an API server with the provided options.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("api")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		cfg:        opts.Config,
		store:      opts.Store,
		agg:        opts.Aggregator,
		engine:     opts.Engine,
		authority:  opts.Authority,
		viewer:     auth.NewViewer(opts.Authority, opts.Config.Auth.DashboardToken),
		providers:  opts.Providers,
		retention:  opts.Retention,
		dispatcher: opts.Dispatcher,
		metrics:    m,
		logger:     logger,
		startTime:  clock.Now(),
	}
	s.hub = NewHub(s.agg, s.viewer, m, logger.WithComponent("ws"))
	s.initRoutes()
	return s
}

// Hub returns the websocket hub for broadcast wiring and liveness sweeps.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) initRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	mux.HandleFunc("POST /api/agent/register", s.handleAgentRegister)
	mux.HandleFunc("POST /api/agent/heartbeat", s.handleAgentHeartbeat)

	mux.HandleFunc("GET /api/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/system/health", s.handleSystemHealth)
	mux.HandleFunc("GET /api/providers", s.handleProviders)
	mux.HandleFunc("GET /api/logs", s.handleLogs)

	mux.HandleFunc("POST /api/admin/login", s.handleAdminLogin)
	mux.HandleFunc("POST /api/admin/logout", s.handleAdminLogout)
	mux.HandleFunc("GET /api/admin/me", s.handleAdminMe)

	mux.HandleFunc("POST /api/alerts/ack", s.requireAdmin(s.handleAlertAck))
	mux.HandleFunc("POST /api/alerts/silence", s.requireAdmin(s.handleAlertSilence))
	mux.HandleFunc("GET /api/notify/status", s.requireAdmin(s.handleNotifyStatus))
	mux.HandleFunc("GET /api/audit", s.requireAdmin(s.handleAudit))
	mux.HandleFunc("GET /api/audit/export.csv", s.requireAdmin(s.handleAuditExport))
	mux.HandleFunc("GET /api/retention/status", s.requireAdmin(s.handleRetentionStatus))
	mux.HandleFunc("POST /api/retention/run", s.requireAdmin(s.handleRetentionRun))

	mux.HandleFunc("GET /ws", s.hub.HandleWS)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	s.mux = mux
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	limits := DefaultServerConfig()
	var h http.Handler = s.mux
	h = s.maxBodyMiddleware(limits.MaxBodyBytes)(h)
	h = s.loggingMiddleware(h)
	h = s.recoverMiddleware(h)
	return h
}

// requireAdmin gates a handler behind a valid admin session.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.viewer.IsAdmin(r); !ok {
			WriteError(w, http.StatusUnauthorized, ErrAdminRequired)
			return
		}
		next(w, r)
	}
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panicked",
					"method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(rec))
				WriteError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/ws") {
			return
		}
		duration := time.Since(start).Round(time.Millisecond)
		switch {
		case wrapped.statusCode >= 500:
			s.logger.Error("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration)
		case wrapped.statusCode >= 400:
			s.logger.Warn("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration)
		default:
			s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration)
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack is needed for the websocket upgrade to pass through the logging
// wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijack not supported")
}

func (s *Server) maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
