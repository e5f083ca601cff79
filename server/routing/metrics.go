package routing

import (
	"github.com/ai-nutritionist/backend/server/metrics"
	"github.com/go-chi/chi/v5"
)

// RegisterMetricsRoutes adds routes for Prometheus metrics
func RegisterMetricsRoutes(r chi.Router, m *metrics.Metrics) {
	r.Handle("/metrics", m.Handler())
}
