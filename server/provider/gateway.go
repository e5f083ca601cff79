package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ai-nutritionist/backend/server/circuitbreaker"
	"github.com/ai-nutritionist/backend/server/conversation"
	"github.com/ai-nutritionist/backend/server/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Gateway is the only path to the completion provider. Every call has a
// hard deadline; failures of any kind come back as *UpstreamError and are
// never retried.
type Gateway struct {
	backend  Backend
	breaker  *circuitbreaker.CircuitBreaker
	metrics  *metrics.Metrics
	logger   *zap.Logger
	defaults Options

	mu     sync.RWMutex
	health Health
}

// NewGateway wires a backend behind the breaker. breaker and m may be nil.
func NewGateway(backend Backend, breaker *circuitbreaker.CircuitBreaker, m *metrics.Metrics, logger *zap.Logger, defaults Options) *Gateway {
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}
	return &Gateway{
		backend:  backend,
		breaker:  breaker,
		metrics:  m,
		logger:   logger,
		defaults: defaults,
		health: Health{
			Provider: backend.Name(),
			Model:    backend.Model(),
			Healthy:  true,
		},
	}
}

// Provider returns the backend name.
func (g *Gateway) Provider() string {
	return g.backend.Name()
}

// Complete sends messages and returns the trimmed completion text.
func (g *Gateway) Complete(ctx context.Context, messages []conversation.Turn, opts Options) (string, error) {
	opts = opts.withDefaults(g.defaults)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	var text string
	call := func() error {
		out, err := g.call(ctx, messages, opts)
		if err != nil {
			return err
		}
		text = out
		return nil
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(call)
	} else {
		err = call()
	}
	elapsed := time.Since(start)

	if err != nil {
		uerr := &UpstreamError{
			Provider: g.backend.Name(),
			Reason:   classify(err),
			Err:      err,
		}
		g.recordFailure(uerr, elapsed)
		return "", uerr
	}

	g.recordSuccess(elapsed)
	return text, nil
}

// call runs the backend and gives up as soon as ctx is done, even if the
// backend ignores cancellation.
func (g *Gateway) call(ctx context.Context, messages []conversation.Turn, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := g.backend.Complete(ctx, messages, opts)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		text := strings.TrimSpace(r.text)
		if text == "" {
			return "", ErrEmptyCompletion
		}
		return text, nil
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, ErrEmptyCompletion):
		return ReasonEmpty
	case isRateLimited(err):
		return ReasonRateLimited
	default:
		return ReasonProvider
	}
}

func (g *Gateway) recordSuccess(elapsed time.Duration) {
	if g.metrics != nil {
		g.metrics.CompletionDuration.WithLabelValues(g.backend.Name(), "success").Observe(elapsed.Seconds())
	}

	g.mu.Lock()
	g.health.LastSuccess = time.Now()
	g.health.LastLatency = elapsed
	g.health.ConsecutiveFails = 0
	g.health.RequestCount++
	g.mu.Unlock()

	g.logger.Debug("completion succeeded",
		zap.String("provider", g.backend.Name()),
		zap.Duration("latency", elapsed))
}

func (g *Gateway) recordFailure(err *UpstreamError, elapsed time.Duration) {
	if g.metrics != nil {
		g.metrics.CompletionDuration.WithLabelValues(g.backend.Name(), "failure").Observe(elapsed.Seconds())
		g.metrics.CompletionErrors.WithLabelValues(err.Reason).Inc()
	}

	g.mu.Lock()
	g.health.RequestCount++
	// A client hanging up says nothing about provider health.
	if err.Reason != ReasonCanceled {
		g.health.LastFailure = time.Now()
		g.health.LastError = err.Err.Error()
		g.health.ConsecutiveFails++
		g.health.ErrorCount++
	}
	g.mu.Unlock()

	g.logger.Warn("completion failed",
		zap.String("provider", err.Provider),
		zap.String("reason", err.Reason),
		zap.Duration("latency", elapsed),
		zap.Error(err.Err))
}

// Health is a point-in-time view of provider health.
type Health struct {
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Healthy          bool          `json:"healthy"`
	BreakerState     string        `json:"breaker_state,omitempty"`
	ConsecutiveFails int           `json:"consecutive_failures"`
	ErrorCount       int64         `json:"error_count"`
	RequestCount     int64         `json:"request_count"`
	LastLatency      time.Duration `json:"-"`
	LastSuccess      time.Time     `json:"last_success"`
	LastFailure      time.Time     `json:"last_failure"`
	LastError        string        `json:"last_error,omitempty"`
}

// Health returns the current health snapshot. The provider counts as
// unhealthy while the breaker is open.
func (g *Gateway) Health() Health {
	g.mu.RLock()
	h := g.health
	g.mu.RUnlock()

	h.Healthy = true
	if g.breaker != nil {
		state := g.breaker.State()
		h.BreakerState = state.String()
		h.Healthy = state != gobreaker.StateOpen
	}
	return h
}
