package errors

import (
	"net/http"
)

// NewError creates a new APIError with full control over its fields.
// Prefer one of the specialized constructors below.
//
// Example:
//
//	err := NewError(InternalError, "session store unavailable", 500, "req_123", nil, redisErr)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *APIError {
	return &APIError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewValidationError creates a 400 error for rejected input, such as:
//   - an empty or whitespace-only message
//   - a message longer than the configured limit
//   - a history field that is not a list
//
// Example:
//
//	err := NewValidationError("req_123", "message must not be empty", map[string]interface{}{
//	    "field": "message",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *APIError {
	return &APIError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewUpstreamError creates a 502 error for a failed completion call.
// The cause is kept for logging and never serialized.
func NewUpstreamError(requestID string, message string, err error) *APIError {
	return &APIError{
		Type:      UpstreamError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewNotFoundError creates a 404 error for an unknown or expired session.
//
// Example:
//
//	err := NewNotFoundError("req_123", "session not found", "3f9a...")
func NewNotFoundError(requestID, message, sessionID string) *APIError {
	return &APIError{
		Type:      NotFoundError,
		Message:   message,
		Code:      http.StatusNotFound,
		RequestID: requestID,
		Details: map[string]interface{}{
			"session_id": sessionID,
		},
	}
}

// NewRateLimitError creates a 429 error with a retry hint in seconds.
func NewRateLimitError(requestID string, retryAfter int) *APIError {
	return &APIError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewUnavailableError creates a 503 error used when the server sheds load.
func NewUnavailableError(requestID, message string) *APIError {
	return &APIError{
		Type:      UnavailableError,
		Message:   message,
		Code:      http.StatusServiceUnavailable,
		RequestID: requestID,
	}
}

// NewInternalError creates a 500 error for unexpected failures: panics,
// session backend errors, encoding failures.
func NewInternalError(requestID string, err error) *APIError {
	return &APIError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
