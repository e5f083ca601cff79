// Package errors provides the error handling system for the nutritionist backend.
// It includes structured error types, JSON response formatting, request ID tracking,
// and integrated logging with Uber's zap logger.
//
// Every client-facing failure is written as a JSON body that always carries an
// "error" field with a human-readable message:
//
//	{"error": "message must not be empty", "type": "invalid_input", "request_id": "..."}
//
// Basic usage:
//
//	// Simple error response
//	errors.Error(w, "Something went wrong", http.StatusInternalServerError)
//
//	// Type-specific error with context
//	errors.ErrorWithType(w, "Invalid input", errors.ValidationError, http.StatusBadRequest)
//
// For richer responses use the constructors in types.go:
//
//	err := errors.NewValidationError(requestID, "message is too long", map[string]interface{}{
//	    "field": "message",
//	    "max":   1000,
//	})
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// A nil logger is ignored so logging can't be disabled by accident.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType represents the category of a failure. Each type maps to one
// HTTP status and one handling policy.
type ErrorType string

const (
	// ValidationError represents a rejected request (empty or oversized
	// message, malformed history). No upstream call is made.
	ValidationError ErrorType = "invalid_input"

	// UpstreamError represents a completion provider failure: timeout,
	// rate limiting at the provider, transport errors, open circuit.
	UpstreamError ErrorType = "upstream_unavailable"

	// NotFoundError represents an unknown or expired session.
	NotFoundError ErrorType = "session_not_found"

	// RouteNotFoundError is returned for paths the server does not serve.
	RouteNotFoundError ErrorType = "not_found"

	// RateLimitError represents a client exceeding the local request rate.
	RateLimitError ErrorType = "rate_limit_error"

	// UnavailableError represents load shedding by the admission queue.
	UnavailableError ErrorType = "service_unavailable"

	// InternalError represents unexpected internal server errors
	InternalError ErrorType = "internal_error"

	// ConfigError represents configuration-related errors
	ConfigError ErrorType = "config_error"
)

// APIError is the error type returned across package boundaries when a
// failure must eventually reach a client. It serializes to the public error
// body while keeping the underlying cause for logs.
type APIError struct {
	// Type categorizes the error for client handling
	Type ErrorType `json:"type"`

	// Message is the human-readable description, exposed as "error"
	Message string `json:"error"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id,omitempty"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.err
}

// Is matches on Type only, so callers can test against a template error.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WriteError writes err as a JSON response with its status code.
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	if encErr := json.NewEncoder(w).Encode(err); encErr != nil {
		DefaultLogger.Warn("failed to encode error response", zap.Error(encErr))
	}
}

// Error is a drop-in replacement for http.Error that writes an InternalError
// body. The request ID is taken from the response headers when present.
func Error(w http.ResponseWriter, message string, code int) {
	ErrorWithType(w, message, InternalError, code)
}

// ErrorWithType is like Error but lets the caller pick the category.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	WriteError(w, &APIError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}
