// Package server wires the nutritionist components together and runs the
// HTTP listener.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ai-nutritionist/backend/config"
	"github.com/ai-nutritionist/backend/server/reply"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// tokenizerLoadTimeout bounds how long startup waits for the tiktoken
// encoding before falling back to the character heuristic.
const tokenizerLoadTimeout = 5 * time.Second

// Server represents the HTTP server
type Server struct {
	app        *App
	httpServer *http.Server
	watcher    config.Watcher
	level      zap.AtomicLevel
	logger     *zap.Logger
}

// NewServer creates a server for app. watcher may be nil, which disables
// live reload. level is the logger's level handle, adjusted on reload.
func NewServer(app *App, watcher config.Watcher, level zap.AtomicLevel, logger *zap.Logger) *Server {
	cfg := app.Config.Server
	return &Server{
		app: app,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Port),
			Handler:        app.Router,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		watcher: watcher,
		level:   level,
		logger:  logger,
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured port and blocks until ctx is canceled
// and the server has shut down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is canceled. In-flight requests get
// the configured shutdown timeout to finish; the session store is closed
// afterwards.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Server started", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		timeout := s.app.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("Shutting down server", zap.Duration("timeout", timeout))
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		return nil
	})

	if s.watcher != nil {
		updates := s.watcher.Subscribe()
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case cfg, ok := <-updates:
					if !ok {
						return nil
					}
					s.applyConfig(cfg)
				}
			}
		})
	}

	err := g.Wait()
	if closeErr := s.app.Close(); closeErr != nil {
		s.logger.Warn("failed to close session store", zap.Error(closeErr))
	}
	return err
}

// applyConfig applies the live-reloadable subset of cfg: log level and the
// reply fallback policy. Everything else needs a restart.
func (s *Server) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	if lvl, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		s.logger.Warn("ignoring invalid log level", zap.String("level", cfg.Logging.Level))
	} else if lvl != s.level.Level() {
		s.level.SetLevel(lvl)
		s.logger.Info("log level changed", zap.String("level", lvl.String()))
	}

	s.app.Parser.SetFallback(reply.Fallback(cfg.Reply.Fallback), cfg.Reply.GenericSuggestions)
	s.logger.Info("reply fallback updated",
		zap.String("fallback", cfg.Reply.Fallback),
		zap.Int("generic_suggestions", len(cfg.Reply.GenericSuggestions)))
}
