package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/metrics"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

const (
	defaultRequestTimeout = 90 * time.Second
	defaultMaxBodyBytes   = 64 << 10
	notifyTimeout         = 5 * time.Second
)

// Capturer runs one capture pipeline.
type Capturer interface {
	Capture(ctx context.Context, rawURL, entityID string) (thumbnail.Result, error)
}

// RateLimiter admits or rejects a caller.
type RateLimiter interface {
	Allow(key string) bool
}

// Config controls HTTP behavior.
type Config struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// FilesDir, when set, is served read-only under /files/.
	FilesDir string
}

// Deps are the collaborators the handlers call. Limiter and Notifier are optional.
type Deps struct {
	Capturer Capturer
	Projects thumbnail.ProjectStore
	Auth     thumbnail.Authenticator
	Limiter  RateLimiter
	Notifier thumbnail.Notifier
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the capture pipeline and project store.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config) (*Server, error) {
	switch {
	case deps.Capturer == nil:
		return nil, errors.New("capturer is required")
	case deps.Projects == nil:
		return nil, errors.New("project store is required")
	case deps.Auth == nil:
		return nil, errors.New("authenticator is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/thumbnail", s.createThumbnail)
	if cfg.FilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.FilesDir))))
	}

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Projects.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
