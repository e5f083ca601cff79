// Package circuitbreaker guards the completion provider with a
// sony/gobreaker breaker and exports its state as Prometheus metrics.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ai-nutritionist/backend/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CircuitBreaker wraps gobreaker with logging and metrics.
type CircuitBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger

	// Metrics
	stateGauge    prometheus.Gauge
	failuresCount prometheus.Counter
	tripsTotal    prometheus.Counter
}

// NewCircuitBreaker creates a breaker. Metrics are registered with
// registry when it is non-nil.
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig, logger *zap.Logger, registry prometheus.Registerer) *CircuitBreaker {
	b := &CircuitBreaker{
		name:   name,
		logger: logger,
	}

	labels := prometheus.Labels{"name": name}
	b.stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "nutritionist_circuit_breaker_state",
		Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		ConstLabels: labels,
	})
	b.failuresCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "nutritionist_circuit_breaker_failures_total",
		Help:        "Total number of failures recorded by the circuit breaker",
		ConstLabels: labels,
	})
	b.tripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "nutritionist_circuit_breaker_trips_total",
		Help:        "Total number of times the circuit breaker has tripped",
		ConstLabels: labels,
	})

	if registry != nil {
		registry.MustRegister(b.stateGauge, b.failuresCount, b.tripsTotal)
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
		IsSuccessful:  isSuccessful,
	})

	return b
}

// Execute runs fn if the breaker allows it. A rejected call returns an
// error wrapping ErrCircuitOpen.
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
	}

	if !isSuccessful(err) {
		b.failuresCount.Inc()
	}
	return err
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the counters of the current generation.
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.stateGauge.Set(float64(to))
	if to == gobreaker.StateOpen {
		b.tripsTotal.Inc()
		b.logger.Warn("Circuit breaker tripped",
			zap.String("name", name),
			zap.String("from", from.String()))
		return
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// isSuccessful treats client cancellation as neutral: the caller went away,
// the provider did not fail.
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
