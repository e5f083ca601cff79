// Package handlers provides the HTTP handlers for the nutritionist API.
//
// Handlers decode and validate input, delegate to the processing pipeline
// and translate its errors into the public error contract. Every client
// error body carries the request id from the RequestID middleware.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ai-nutritionist/backend/errors"
	"github.com/ai-nutritionist/backend/server/metrics"
	"github.com/ai-nutritionist/backend/server/middleware"
	"github.com/ai-nutritionist/backend/server/processing"
	"github.com/ai-nutritionist/backend/server/provider"
	"github.com/ai-nutritionist/backend/server/validation"
	"go.uber.org/zap"
)

// Analyzer runs one conversational exchange. *processing.Processor
// implements it.
type Analyzer interface {
	Process(ctx context.Context, req processing.Request) (*processing.Response, error)
}

// AnalyzeHandler serves POST /analyze.
type AnalyzeHandler struct {
	analyzer  Analyzer
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewAnalyzeHandler creates the handler. m may be nil.
func NewAnalyzeHandler(analyzer Analyzer, m *metrics.Metrics, logger *zap.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		analyzer:  analyzer,
		validator: validation.New(),
		metrics:   m,
		logger:    logger,
	}
}

// upstreamFailure is the 502 body: the apology stands in for the reply so
// clients can render it like any other answer.
type upstreamFailure struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id,omitempty"`
}

func (h *AnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	logger := h.logger.With(
		zap.String("request_id", requestID),
		zap.String("path", r.URL.Path),
	)

	req, err := h.validator.DecodeAnalyze(r.Body)
	if err != nil {
		h.writeInvalid(w, requestID, err)
		return
	}

	logger.Debug("analyze request",
		zap.Int("message_length", len(req.Message)),
		zap.Bool("has_session_id", req.SessionID != ""),
		zap.Int("history_bytes", len(req.History)))

	resp, err := h.analyzer.Process(r.Context(), processing.Request{
		Message:    req.Message,
		History:    req.History,
		SessionID:  req.SessionID,
		UseSession: req.UseSession,
		ClientSeed: r.RemoteAddr,
		RequestID:  requestID,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp, logger)

	case errors.Is(err, processing.ErrInvalidInput):
		h.writeInvalid(w, requestID, err)

	case errors.Is(err, provider.ErrUpstreamUnavailable):
		h.countError(errors.UpstreamError)
		errors.LogError(h.logger, errors.NewUpstreamError(requestID, "completion failed", err), requestID)
		body := upstreamFailure{}
		if resp != nil {
			body.Reply = resp.Reply
			body.SessionID = resp.SessionID
		}
		writeJSON(w, http.StatusBadGateway, body, logger)

	default:
		h.countError(errors.InternalError)
		apiErr := errors.NewInternalError(requestID, err)
		errors.LogError(h.logger, apiErr, requestID)
		errors.WriteError(w, apiErr)
	}
}

func (h *AnalyzeHandler) writeInvalid(w http.ResponseWriter, requestID string, err error) {
	h.countError(errors.ValidationError)

	message := err.Error()
	var details map[string]interface{}
	var verr *validation.Error
	if errors.As(err, &verr) {
		message = verr.Message
		details = verr.Details()
	}
	errors.WriteError(w, errors.NewValidationError(requestID, message, details))
}

func (h *AnalyzeHandler) countError(t errors.ErrorType) {
	if h.metrics != nil {
		h.metrics.ErrorsTotal.WithLabelValues(string(t)).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}
