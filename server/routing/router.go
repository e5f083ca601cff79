// Package routing assembles the HTTP routes and the middleware chain.
package routing

import (
	"net/http"

	"github.com/ai-nutritionist/backend/errors"
	"github.com/ai-nutritionist/backend/server/handlers"
	"github.com/ai-nutritionist/backend/server/metrics"
	"github.com/ai-nutritionist/backend/server/middleware"
	"github.com/ai-nutritionist/backend/server/validation"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handlers are the endpoint implementations mounted by the router.
type Handlers struct {
	Analyze  http.Handler
	Sessions *handlers.SessionsHandler
	Health   http.Handler
}

// Options configures the middleware chain. Nil RateLimiter or Queue
// disables that stage; nil Metrics disables instrumentation and /metrics.
type Options struct {
	Metrics            *metrics.Metrics
	RateLimiter        *middleware.RateLimiter
	Queue              *middleware.QueueMiddleware
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
}

// Router is the root HTTP handler.
//
// Global chain, outermost first: request id, response timer, panic
// recovery, access log, metrics, CORS, body limit. /analyze additionally
// goes through the JSON content-type check, the per-client rate limiter and
// the admission queue, in that order, so rejected requests never take a
// queue slot.
type Router struct {
	router chi.Router
	logger *zap.Logger
}

// NewRouter wires h behind the middleware chain described by opts.
func NewRouter(h Handlers, opts Options, logger *zap.Logger) *Router {
	r := &Router{
		router: chi.NewRouter(),
		logger: logger,
	}

	r.router.Use(middleware.RequestID)
	r.router.Use(middleware.RequestTimer)
	r.router.Use(errors.ErrorHandler(logger))
	r.router.Use(middleware.Logging(logger))
	if opts.Metrics != nil {
		r.router.Use(middleware.PrometheusMetrics(opts.Metrics))
	}
	r.router.Use(middleware.CORS(opts.CORSAllowedOrigins))
	if opts.MaxBodyBytes > 0 {
		r.router.Use(middleware.MaxBody(opts.MaxBodyBytes))
	}

	r.router.NotFound(func(w http.ResponseWriter, req *http.Request) {
		errors.ErrorWithType(w, "Not found", errors.RouteNotFoundError, http.StatusNotFound)
	})
	r.router.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		errors.ErrorWithType(w, "Method not allowed", errors.ValidationError, http.StatusMethodNotAllowed)
	})

	r.setupRoutes(h, opts)
	return r
}

func (r *Router) setupRoutes(h Handlers, opts Options) {
	if h.Analyze != nil {
		r.router.Group(func(router chi.Router) {
			router.Use(validation.RequireJSON)
			if opts.RateLimiter != nil {
				router.Use(opts.RateLimiter.Handler)
			}
			if opts.Queue != nil {
				router.Use(opts.Queue.Handler)
			}
			router.Post("/analyze", h.Analyze.ServeHTTP)
		})
	} else {
		r.logger.Warn("analyze handler not configured")
	}

	if h.Sessions != nil {
		r.router.Route("/sessions", func(router chi.Router) {
			router.Post("/", h.Sessions.Create)
			router.Get("/{id}", h.Sessions.Get)
			router.Delete("/{id}", h.Sessions.Delete)
		})
	}

	if h.Health != nil {
		r.router.Method(http.MethodGet, "/health", h.Health)
	}

	if opts.Metrics != nil {
		RegisterMetricsRoutes(r.router, opts.Metrics)
	}
}

// ServeHTTP implements the http.Handler interface.
// Delegates request handling to the underlying Chi router.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
