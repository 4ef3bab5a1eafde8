// Package server exposes retrieval over HTTP: POST /v1/search, GET /healthz and
// GET /metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Aman-CERP/kbretrieve/internal/config"
	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/retrieval"
	"github.com/Aman-CERP/kbretrieve/internal/telemetry"
	"github.com/Aman-CERP/kbretrieve/pkg/version"
)

const (
	maxBodyBytes           = 1 << 20
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// Retriever answers a query under a policy.
type Retriever interface {
	Retrieve(ctx context.Context, query string, policy retrieval.Policy) (*retrieval.Outcome, error)
}

// PolicySource resolves the policy for one request.
type PolicySource func(config.Overrides) (retrieval.Policy, error)

// HealthCheck reports the state of one dependency, such as "closed" for a
// circuit breaker.
type HealthCheck func() string

// Server serves retrieval over HTTP.
type Server struct {
	addr      string
	retriever Retriever
	policy    PolicySource
	metrics   *telemetry.RetrievalMetrics
	logger    *slog.Logger
	checks    map[string]HealthCheck

	shutdownTimeout time.Duration
	started         time.Time

	mu       sync.Mutex
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics instruments every route and serves /metrics.
func WithMetrics(m *telemetry.RetrievalMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithShutdownTimeout bounds how long in-flight requests may finish after the
// context is cancelled.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithHealthCheck adds a named entry to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// New creates a server bound to addr once ListenAndServe runs.
func New(addr string, r Retriever, policy PolicySource, opts ...Option) (*Server, error) {
	if r == nil || policy == nil {
		return nil, fmt.Errorf("%w: server needs a retriever and a policy source", retrieval.ErrNilDependency)
	}
	s := &Server{
		addr:            addr,
		retriever:       r,
		policy:          policy,
		logger:          slog.Default(),
		checks:          make(map[string]HealthCheck),
		shutdownTimeout: defaultShutdownTimeout,
		started:         time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /v1/search", "/v1/search", http.HandlerFunc(s.handleSearch))
	s.route(mux, "GET /healthz", "/healthz", http.HandlerFunc(s.handleHealth))
	if s.metrics != nil {
		s.route(mux, "GET /metrics", "/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, path string, h http.Handler) {
	if s.metrics != nil {
		h = s.metrics.Middleware(path, h)
	}
	mux.Handle(pattern, h)
}

// Addr returns the bound address, or the configured one before listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then drains in-flight requests. A clean shutdown returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("server_listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("server_shutting_down", slog.Duration("timeout", s.shutdownTimeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, amerrors.ValidationError("invalid request body", err), nil)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, err, nil)
		return
	}

	policy, err := s.policy(req.Overrides())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	outcome, err := s.retriever.Retrieve(r.Context(), req.Query, policy)
	if err != nil {
		if r.Context().Err() != nil {
			// client went away
			s.logger.Debug("search_cancelled", slog.String("error", err.Error()))
			return
		}
		s.writeError(w, err, outcome)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	res := HealthResult{
		Status:  "ok",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Version: version.Short(),
	}
	if len(s.checks) > 0 {
		res.Backends = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			res.Backends[name] = check()
		}
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeError(w http.ResponseWriter, err error, outcome *retrieval.Outcome) {
	body, mErr := amerrors.FormatJSON(err)
	if mErr != nil {
		body = []byte(`{"code":"ERR_501_INTERNAL","message":"error encoding failed"}`)
	}
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("search_request_failed", amerrors.FormatForLog(err)...)
	}
	s.writeJSON(w, status, ErrorResponse{Error: body, Outcome: outcome})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response_write_failed", slog.String("error", err.Error()))
	}
}

// StatusFor maps an error to an HTTP status by its category.
func StatusFor(err error) int {
	switch amerrors.GetCategory(err) {
	case amerrors.CategoryValidation:
		return http.StatusBadRequest
	case amerrors.CategoryAuth:
		return http.StatusBadGateway
	case amerrors.CategoryNetwork:
		return http.StatusServiceUnavailable
	}
	if amerrors.GetCode(err) == amerrors.ErrCodeRetrievalFailed {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
