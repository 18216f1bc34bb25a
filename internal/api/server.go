// Package api exposes the HTTP control surface for the status monitor.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/entity"
	"github.com/visibly-ai/statuswatch/internal/watch"
)

// Monitor is the registry surface the handlers drive. *watch.Registry
// satisfies it.
type Monitor interface {
	StartMonitoring(ctx context.Context, entityID, groupID string, cb func(entity.StatusEvent)) error
	MonitorGroup(ctx context.Context, groupID string, entityIDs []string, cb func(entity.StatusEvent)) error
	StopMonitoring(ctx context.Context, entityID string) error
	StopGroup(ctx context.Context, groupID string) error
	Diagnostics(ctx context.Context, groupID string) (watch.Diagnostics, error)
}

// Server wires HTTP handlers to the watcher registry.
type Server struct {
	router  chi.Router
	monitor Monitor
	logger  *zap.Logger

	// metrics serves the Prometheus registry; nil disables the endpoint.
	metrics http.Handler
	// readyCheck probes downstream dependencies for /readyz; nil means
	// always ready.
	readyCheck func(context.Context) error
}

// Option customizes a Server.
type Option func(*Server)

// WithMetricsHandler mounts handler at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithReadyCheck sets the probe behind /readyz.
func WithReadyCheck(check func(context.Context) error) Option {
	return func(s *Server) { s.readyCheck = check }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(monitor Monitor, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		monitor: monitor,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/monitor", s.startMonitoring)
		r.Post("/monitor/group", s.monitorGroup)
		r.Delete("/monitor/{entity_id}", s.stopMonitoring)
		r.Route("/groups/{group_id}", func(r chi.Router) {
			r.Delete("/monitor", s.stopGroup)
			r.Get("/diagnostics", s.diagnostics)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.readyCheck != nil {
		if err := s.readyCheck(r.Context()); err != nil {
			writeError(s.logger, w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}
