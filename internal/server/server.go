// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package server is the kernel's HTTP surface: the state API, plugin route
// dispatch, health and event endpoints, and the static dashboard.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// WebRoot holds dashboard/ and shared/media/. Empty disables static files.
	WebRoot string
	Version string
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	services *Services
	webRoot  *os.Root
}

// New creates a Server with chi router, huma API, CORS and every kernel route.
func New(cfg Config, svc *Services) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, generr.New(generr.CodeServerConfigInvalid, "listen address is required")
	}
	if svc == nil {
		return nil, generr.New(generr.CodeServerConfigInvalid, "services are required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	// Huma API with OpenAPI spec
	humaConfig := huma.DefaultConfig("Genesis Kernel", cfg.Version)
	humaConfig.Info.Description = "State, plugin and event API of the Genesis kernel"
	// Response bodies carry no $schema link.
	humaConfig.CreateHooks = nil
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router:   r,
		api:      api,
		cfg:      cfg,
		services: svc,
	}

	if cfg.WebRoot != "" {
		root, err := os.OpenRoot(cfg.WebRoot)
		if err != nil {
			slog.Warn("web root unavailable, static files disabled", "path", cfg.WebRoot, "error", err)
		} else {
			srv.webRoot = root
		}
	}

	srv.registerRoutes()
	srv.registerPluginRoutes()
	srv.registerStaticRoutes()

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases the web root handle.
func (s *Server) Close() error {
	if s.webRoot == nil {
		return nil
	}
	return s.webRoot.Close()
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return generr.Wrapf(err, generr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("http server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return generr.Wrap(err, generr.CodeServerStartFailure, "serving http")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return generr.Wrap(err, generr.CodeServerShutdownFailure, "shutting down")
	}

	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
