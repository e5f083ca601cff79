package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriteError verifies the public error body: the message is exposed
// under "error", the status code is never serialized, and the cause stays
// private.
func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, NewUpstreamError("req-9", "completion provider unavailable", errors.New("secret cause")))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "completion provider unavailable", body["error"])
	assert.Equal(t, "upstream_unavailable", body["type"])
	assert.Equal(t, "req-9", body["request_id"])
	assert.NotContains(t, rr.Body.String(), "secret cause")
	assert.NotContains(t, body, "code")
}

func TestErrorWithType(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Header().Set("X-Request-ID", "from-header")
	ErrorWithType(rr, "history must be a list", ValidationError, http.StatusBadRequest)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", body["type"])
	assert.Equal(t, "from-header", body["request_id"])
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusCode(NewNotFoundError("", "gone", "x")))
	assert.Equal(t, http.StatusBadRequest, StatusCode(fmt.Errorf("wrapped: %w", NewValidationError("", "bad", nil))))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain")))
}
