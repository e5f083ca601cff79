package handlers

import (
	"net/http"

	"github.com/ai-nutritionist/backend/server/provider"
	"github.com/ai-nutritionist/backend/server/session"
	"go.uber.org/zap"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "AI Nutritionist Backend"

// UpstreamHealth reports provider health. *provider.Gateway implements it.
type UpstreamHealth interface {
	Provider() string
	Health() provider.Health
}

// HealthConfig wires a HealthHandler. Sessions is nil when session mode is
// disabled.
type HealthConfig struct {
	ProductsLoaded int
	Sessions       session.Store
	SessionTimeout int // minutes
	Upstream       UpstreamHealth
	Logger         *zap.Logger
}

// HealthHandler serves GET /health. It always answers 200 while the process
// is up; upstream state is informational.
type HealthHandler struct {
	cfg HealthConfig
}

// NewHealthHandler creates the handler.
func NewHealthHandler(cfg HealthConfig) *HealthHandler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &HealthHandler{cfg: cfg}
}

type healthResponse struct {
	Status                string           `json:"status"`
	Service               string           `json:"service"`
	ProductsLoaded        int              `json:"products_loaded"`
	SessionsEnabled       bool             `json:"sessions_enabled"`
	ActiveSessions        *int             `json:"active_sessions,omitempty"`
	SessionTimeoutMinutes *int             `json:"session_timeout_minutes,omitempty"`
	Provider              string           `json:"provider"`
	Upstream              *provider.Health `json:"upstream,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:          "healthy",
		Service:         ServiceName,
		ProductsLoaded:  h.cfg.ProductsLoaded,
		SessionsEnabled: h.cfg.Sessions != nil,
	}

	if h.cfg.Sessions != nil {
		timeout := h.cfg.SessionTimeout
		resp.SessionTimeoutMinutes = &timeout
		if n, err := h.cfg.Sessions.Count(r.Context()); err != nil {
			h.cfg.Logger.Warn("failed to count sessions", zap.Error(err))
		} else {
			resp.ActiveSessions = &n
		}
	}

	if h.cfg.Upstream != nil {
		resp.Provider = h.cfg.Upstream.Provider()
		health := h.cfg.Upstream.Health()
		resp.Upstream = &health
	}

	writeJSON(w, http.StatusOK, resp, h.cfg.Logger)
}
