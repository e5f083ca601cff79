package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ai-nutritionist/backend/errors"
	"github.com/ai-nutritionist/backend/server/middleware"
	"github.com/ai-nutritionist/backend/server/session"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SessionCreator starts an empty session seeded with the system instruction.
type SessionCreator interface {
	CreateSession(ctx context.Context, seed string) (*session.Session, error)
}

// SessionsHandler serves the /sessions resource. A nil store means session
// mode is disabled and every route answers 404.
type SessionsHandler struct {
	creator SessionCreator
	store   session.Store
	logger  *zap.Logger
}

// NewSessionsHandler creates the handler.
func NewSessionsHandler(creator SessionCreator, store session.Store, logger *zap.Logger) *SessionsHandler {
	return &SessionsHandler{creator: creator, store: store, logger: logger}
}

type sessionCreated struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

type sessionInfo struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

type sessionDeleted struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Create handles POST /sessions.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	if !h.enabled(w, requestID) {
		return
	}

	sess, err := h.creator.CreateSession(r.Context(), r.RemoteAddr)
	if err != nil {
		h.internal(w, requestID, err)
		return
	}

	h.logger.Info("session created",
		zap.String("request_id", requestID),
		zap.String("session_id", sess.ID))
	writeJSON(w, http.StatusCreated, sessionCreated{
		SessionID:    sess.ID,
		CreatedAt:    sess.CreatedAt,
		MessageCount: sess.MessageCount,
	}, h.logger)
}

// Get handles GET /sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	if !h.enabled(w, requestID) {
		return
	}

	id := chi.URLParam(r, "id")
	sess, err := h.store.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		errors.WriteError(w, errors.NewNotFoundError(requestID, "Session not found", id))
		return
	}
	if err != nil {
		h.internal(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionInfo{
		SessionID:    sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		MessageCount: sess.MessageCount,
	}, h.logger)
}

// Delete handles DELETE /sessions/{id}.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	if !h.enabled(w, requestID) {
		return
	}

	id := chi.URLParam(r, "id")
	err := h.store.Delete(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		errors.WriteError(w, errors.NewNotFoundError(requestID, "Session not found", id))
		return
	}
	if err != nil {
		h.internal(w, requestID, err)
		return
	}

	h.logger.Info("session deleted",
		zap.String("request_id", requestID),
		zap.String("session_id", id))
	writeJSON(w, http.StatusOK, sessionDeleted{
		Message:   "Session deleted successfully",
		SessionID: id,
	}, h.logger)
}

func (h *SessionsHandler) enabled(w http.ResponseWriter, requestID string) bool {
	if h.store != nil && h.creator != nil {
		return true
	}
	errors.WriteError(w, errors.NewError(
		errors.NotFoundError,
		"Session management is disabled",
		http.StatusNotFound,
		requestID,
		nil,
		nil,
	))
	return false
}

func (h *SessionsHandler) internal(w http.ResponseWriter, requestID string, err error) {
	apiErr := errors.NewInternalError(requestID, err)
	errors.LogError(h.logger, apiErr, requestID)
	errors.WriteError(w, apiErr)
}
