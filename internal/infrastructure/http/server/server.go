package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"3tcapital/telescope/internal/infrastructure/config"
	"3tcapital/telescope/internal/infrastructure/http/middleware"
	"3tcapital/telescope/internal/telescope"
)

// Server hosts the application routes with Telescope installed.
type Server struct {
	log             *slog.Logger
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// Options wires the server dependencies.
type Options struct {
	Config        config.AppConfig
	Logger        *slog.Logger
	HealthHandler http.Handler
	Telescope     *telescope.Telescope
	// Routes mounts the host application's own endpoints. Optional.
	Routes func(r chi.Router)
}

// New builds the router: request ids, request logging and the Telescope
// capture chain in front of every host route, then the dashboard routes.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.HealthHandler == nil {
		return nil, errors.New("health handler is required")
	}
	if opts.Telescope == nil {
		return nil, errors.New("telescope is required")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(opts.Logger, middleware.QuietPaths(opts.Telescope.RoutePrefix(), middleware.ConfigPath)))
	r.Use(opts.Telescope.Middleware())

	r.Method(http.MethodGet, "/health", opts.HealthHandler)
	opts.Telescope.Register(r)
	if opts.Routes != nil {
		opts.Routes(r)
	}

	shutdown := opts.Config.HTTP.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	srv := &http.Server{
		Addr:         opts.Config.HTTP.Address(),
		Handler:      r,
		ReadTimeout:  opts.Config.HTTP.ReadTimeout,
		WriteTimeout: opts.Config.HTTP.WriteTimeout,
		IdleTimeout:  opts.Config.HTTP.IdleTimeout,
	}

	return &Server{log: opts.Logger, httpServer: srv, shutdownTimeout: shutdown}, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down HTTP server", "timeout", s.shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
