package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ai-nutritionist/backend/server/middleware"
	"github.com/stretchr/testify/assert"
)

func TestRequireJSON(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := middleware.RequestID(RequireJSON(next))

	tests := []struct {
		name        string
		method      string
		contentType string
		wantStatus  int
	}{
		{"json post", http.MethodPost, "application/json", http.StatusNoContent},
		{"json with charset", http.MethodPost, "application/json; charset=utf-8", http.StatusNoContent},
		{"missing content type", http.MethodPost, "", http.StatusBadRequest},
		{"text post", http.MethodPost, "text/plain", http.StatusBadRequest},
		{"form put", http.MethodPut, "application/x-www-form-urlencoded", http.StatusBadRequest},
		{"get is exempt", http.MethodGet, "", http.StatusNoContent},
		{"delete is exempt", http.MethodDelete, "text/plain", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/analyze", strings.NewReader(`{}`))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusBadRequest {
				assert.Contains(t, rec.Body.String(), `"type":"invalid_input"`)
				assert.Contains(t, rec.Body.String(), rec.Header().Get(middleware.RequestIDHeader))
			}
		})
	}
}
