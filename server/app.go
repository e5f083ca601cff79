package server

import (
	"context"
	"fmt"

	"github.com/ai-nutritionist/backend/config"
	"github.com/ai-nutritionist/backend/server/catalog"
	"github.com/ai-nutritionist/backend/server/circuitbreaker"
	"github.com/ai-nutritionist/backend/server/conversation"
	"github.com/ai-nutritionist/backend/server/handlers"
	"github.com/ai-nutritionist/backend/server/metrics"
	"github.com/ai-nutritionist/backend/server/middleware"
	"github.com/ai-nutritionist/backend/server/processing"
	"github.com/ai-nutritionist/backend/server/prompt"
	"github.com/ai-nutritionist/backend/server/provider"
	"github.com/ai-nutritionist/backend/server/reply"
	"github.com/ai-nutritionist/backend/server/routing"
	"github.com/ai-nutritionist/backend/server/session"
	"github.com/ai-nutritionist/backend/server/validation"
	"go.uber.org/zap"
)

// App holds the wired components of one server instance.
type App struct {
	Config    *config.Config
	Catalog   *catalog.Catalog
	Parser    *reply.Parser
	Gateway   *provider.Gateway
	Sessions  session.Store // nil when sessions are disabled
	Processor *processing.Processor
	Metrics   *metrics.Metrics
	Router    *routing.Router
	Queue     *middleware.QueueMiddleware // nil when the queue is disabled
}

// AppOption customizes NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	tokens *validation.TokenCounter
}

// WithTokenCounter replaces the tiktoken-backed prompt token counter.
func WithTokenCounter(tc *validation.TokenCounter) AppOption {
	return func(o *appOptions) {
		o.tokens = tc
	}
}

// NewApp builds every component from cfg around backend. The catalog is
// loaded once; a missing or broken catalog file degrades to an empty one.
func NewApp(ctx context.Context, cfg *config.Config, backend provider.Backend, logger *zap.Logger, opts ...AppOption) (*App, error) {
	if backend == nil {
		return nil, fmt.Errorf("provider backend is required")
	}

	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.tokens == nil {
		o.tokens = validation.NewTokenCounter(cfg.LLM.Model, tokenizerLoadTimeout)
	}

	app := &App{
		Config:  cfg,
		Metrics: metrics.NewMetrics(),
		Parser:  reply.NewParser(cfg.Reply),
	}

	app.Catalog = catalog.LoadOrEmpty(cfg.Catalog.Path, logger)
	logger.Info("product catalog ready", zap.Int("products", app.Catalog.Len()))

	mode := prompt.ModeJSON
	if cfg.Reply.Mode == string(prompt.ModeText) {
		mode = prompt.ModeText
	}
	assembler, err := prompt.NewAssembler(cfg.Prompt.SystemTemplate, app.Catalog, mode)
	if err != nil {
		return nil, err
	}

	breaker := circuitbreaker.NewCircuitBreaker(backend.Name(), cfg.CircuitBreaker, logger, app.Metrics.Registry())
	app.Gateway = provider.NewGateway(backend, breaker, app.Metrics, logger, provider.OptionsFromConfig(cfg.LLM))

	if cfg.Session.Enabled {
		app.Sessions, err = session.NewStore(ctx, cfg.Session)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		logger.Info("session mode enabled",
			zap.String("driver", cfg.Session.Driver),
			zap.Duration("timeout", cfg.Session.Timeout))
	}

	app.Processor, err = processing.NewProcessor(processing.Config{
		Assembler: assembler,
		Parser:    app.Parser,
		Completer: app.Gateway,
		Sessions:  app.Sessions,
		Tokens:    o.tokens,
		Metrics:   app.Metrics,
		Logger:    logger,
		History: conversation.Limits{
			MaxRecords: cfg.History.MaxRecords,
			MaxCost:    cfg.History.MaxCost,
		},
		Completion:      provider.OptionsFromConfig(cfg.LLM),
		Apology:         cfg.Reply.Apology,
		BuyNow:          cfg.Reply.BuyNow,
		BuyNowThreshold: cfg.Reply.BuyNowThreshold,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	routes := routing.Options{
		Metrics:            app.Metrics,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
	}
	if cfg.RateLimit.Enabled {
		routes.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit, app.Metrics)
	}
	if cfg.Queue.Enabled {
		app.Queue = middleware.NewQueueMiddleware(middleware.QueueConfig{
			MaxConcurrent: cfg.Queue.MaxConcurrent,
			MaxQueued:     cfg.Queue.MaxQueued,
			Metrics:       app.Metrics,
		})
		routes.Queue = app.Queue
	}

	h := routing.Handlers{
		Analyze: handlers.NewAnalyzeHandler(app.Processor, app.Metrics, logger),
		Health: handlers.NewHealthHandler(handlers.HealthConfig{
			ProductsLoaded: app.Catalog.Len(),
			Sessions:       app.Sessions,
			SessionTimeout: int(cfg.Session.Timeout.Minutes()),
			Upstream:       app.Gateway,
			Logger:         logger,
		}),
	}
	h.Sessions = handlers.NewSessionsHandler(app.Processor, app.Sessions, logger)
	app.Router = routing.NewRouter(h, routes, logger)

	return app, nil
}

// Close releases the session backend.
func (a *App) Close() error {
	if a.Sessions != nil {
		return a.Sessions.Close()
	}
	return nil
}
