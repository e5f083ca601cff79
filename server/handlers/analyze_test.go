package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ai-nutritionist/backend/errors"
	"github.com/ai-nutritionist/backend/server/metrics"
	"github.com/ai-nutritionist/backend/server/middleware"
	"github.com/ai-nutritionist/backend/server/processing"
	"github.com/ai-nutritionist/backend/server/provider"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockAnalyzer struct {
	resp  *processing.Response
	err   error
	calls int
	last  processing.Request
}

func (m *mockAnalyzer) Process(_ context.Context, req processing.Request) (*processing.Response, error) {
	m.calls++
	m.last = req
	return m.resp, m.err
}

func newAnalyzeRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithRequestID(req.Context(), "req-123"))
}

func TestAnalyzeHandler_Success(t *testing.T) {
	buy := true
	analyzer := &mockAnalyzer{resp: &processing.Response{
		Reply:        "Try spinach.",
		Suggestions:  []string{"Why iron?"},
		SessionID:    "abc",
		MessageCount: 5,
		BuyNow:       &buy,
	}}
	h := NewAnalyzeHandler(analyzer, nil, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newAnalyzeRequest(`{"message":"  I feel tired  ","session_id":"abc","history":[{"text":"x"}]}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"reply":"Try spinach.","suggestions":["Why iron?"],"session_id":"abc","message_count":5,"buy_now":true}`, rec.Body.String())

	assert.Equal(t, "I feel tired", analyzer.last.Message)
	assert.Equal(t, "abc", analyzer.last.SessionID)
	assert.Equal(t, "req-123", analyzer.last.RequestID)
	assert.JSONEq(t, `[{"text":"x"}]`, string(analyzer.last.History))
}

func TestAnalyzeHandler_StatelessOmitsSessionFields(t *testing.T) {
	analyzer := &mockAnalyzer{resp: &processing.Response{Reply: "hi", Suggestions: []string{}}}
	h := NewAnalyzeHandler(analyzer, nil, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newAnalyzeRequest(`{"message":"hello","use_session":false}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"hi","suggestions":[]}`, rec.Body.String())
	require.NotNil(t, analyzer.last.UseSession)
	assert.False(t, *analyzer.last.UseSession)
}

func TestAnalyzeHandler_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{"malformed json", `{"message":`, "Invalid request format"},
		{"missing message", `{}`, "message must not be empty"},
		{"blank message", `{"message":"   "}`, "message must not be empty"},
		{"too long", `{"message":"` + strings.Repeat("a", 1001) + `"}`, "message must be at most 1000 characters"},
		{"history not a list", `{"message":"hi","history":{"text":"x"}}`, "history must be a list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &mockAnalyzer{}
			m := metrics.NewMetrics()
			h := NewAnalyzeHandler(analyzer, m, zaptest.NewLogger(t))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, newAnalyzeRequest(tt.body))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body["error"])
			assert.Equal(t, string(errors.ValidationError), body["type"])
			assert.Equal(t, "req-123", body["request_id"])
			assert.Zero(t, analyzer.calls)
			assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(string(errors.ValidationError))))
		})
	}
}

func TestAnalyzeHandler_UpstreamFailure(t *testing.T) {
	analyzer := &mockAnalyzer{
		resp: &processing.Response{Reply: "Sorry, try again.", SessionID: "abc"},
		err:  &provider.UpstreamError{Provider: "gemini", Reason: provider.ReasonProvider, Err: errors.New("boom")},
	}
	h := NewAnalyzeHandler(analyzer, nil, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newAnalyzeRequest(`{"message":"hi"}`))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"reply":"Sorry, try again.","session_id":"abc"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestAnalyzeHandler_InternalError(t *testing.T) {
	analyzer := &mockAnalyzer{err: errors.New("redis: connection refused")}
	h := NewAnalyzeHandler(analyzer, nil, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newAnalyzeRequest(`{"message":"hi"}`))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(errors.InternalError), body["type"])
	assert.NotContains(t, rec.Body.String(), "redis")
}
