package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ai-nutritionist/backend/config"
	"github.com/ai-nutritionist/backend/server/mocks"
	"github.com/ai-nutritionist/backend/server/reply"
	"github.com/ai-nutritionist/backend/server/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

const structuredReply = `{"reply":"Leafy greens help with iron.","suggestions":["What about zinc?"]}`

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "mock"
	cfg.LLM.APIKey = "test-key"
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, llm *mocks.MockLLM) *App {
	t.Helper()
	app, err := NewApp(context.Background(), cfg, llm.Backend(), zaptest.NewLogger(t),
		WithTokenCounter(validation.NewHeuristicCounter()))
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func postAnalyze(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestApp_SessionConversation(t *testing.T) {
	llm := mocks.NewMockLLM(func(ctx context.Context, p *gollm.Prompt) (string, error) {
		return "```json\n" + structuredReply + "\n```", nil
	})
	app := newTestApp(t, testConfig(), llm)

	rec := postAnalyze(t, app.Router, `{"message":"I am always tired"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Response-Time"))

	first := decode(t, rec)
	assert.Equal(t, "Leafy greens help with iron.", first["reply"])
	assert.Equal(t, []interface{}{"What about zinc?"}, first["suggestions"])
	assert.Equal(t, float64(1), first["message_count"])
	sessionID, _ := first["session_id"].(string)
	require.NotEmpty(t, sessionID)

	rec = postAnalyze(t, app.Router, `{"message":"And my nails break","session_id":"`+sessionID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode(t, rec)
	assert.Equal(t, sessionID, second["session_id"])
	assert.Equal(t, float64(2), second["message_count"])

	prompt := llm.LastPrompt()
	require.NotNil(t, prompt)
	require.Len(t, prompt.Messages, 4)
	assert.Equal(t, "system", prompt.Messages[0].Role)
	assert.Equal(t, "I am always tired", prompt.Messages[1].Content)
	assert.Equal(t, "assistant", prompt.Messages[2].Role)
	assert.Equal(t, "And my nails break", prompt.Messages[3].Content)

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["message_count"])

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+sessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+sessionID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_StatelessWithHistory(t *testing.T) {
	llm := mocks.NewMockLLM(func(ctx context.Context, p *gollm.Prompt) (string, error) {
		return "Just plain prose.", nil
	})
	cfg := testConfig()
	cfg.Session.Enabled = false
	app := newTestApp(t, cfg, llm)

	rec := postAnalyze(t, app.Router, `{"message":"hi","history":[{"text":"earlier","sender":"user"},{"message":"reply","role":"bot"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"Just plain prose.","suggestions":[]}`, rec.Body.String())

	prompt := llm.LastPrompt()
	require.Len(t, prompt.Messages, 4)
	assert.Equal(t, "earlier", prompt.Messages[1].Content)
	assert.Equal(t, "assistant", prompt.Messages[2].Role)

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_InvalidRequests(t *testing.T) {
	llm := mocks.NewMockLLM(nil)
	app := newTestApp(t, testConfig(), llm)

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"wrong content type", "text/plain", `{"message":"hi"}`},
		{"empty message", "application/json", `{"message":""}`},
		{"history object", "application/json", `{"message":"hi","history":{}}`},
		{"oversized message", "application/json", `{"message":"` + strings.Repeat("x", 1001) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			app.Router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, "invalid_input", body["type"])
			assert.Equal(t, rec.Header().Get("X-Request-ID"), body["request_id"])
		})
	}
	assert.Zero(t, llm.Calls())
}

func TestApp_UpstreamFailureReturnsApology(t *testing.T) {
	llm := mocks.NewMockLLM(func(ctx context.Context, p *gollm.Prompt) (string, error) {
		return "", errors.New("503 from provider")
	})
	cfg := testConfig()
	app := newTestApp(t, cfg, llm)

	rec := postAnalyze(t, app.Router, `{"message":"hi"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, cfg.Reply.Apology, body["reply"])
	assert.NotEmpty(t, body["session_id"])
	assert.NotContains(t, rec.Body.String(), "503 from provider")
	assert.Equal(t, 1, llm.Calls(), "no retries")
}

func TestApp_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}
	llm := mocks.NewMockLLM(func(ctx context.Context, p *gollm.Prompt) (string, error) {
		return structuredReply, nil
	})
	app := newTestApp(t, cfg, llm)

	rec := postAnalyze(t, app.Router, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postAnalyze(t, app.Router, `{"message":"hi again"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, llm.Calls())
}

func TestApp_HealthAndMetrics(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "products.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(`
- name: Iron Pearl Millet
  benefit: High iron
- name: Vitamin A Sweet Potato
`), 0o644))

	cfg := testConfig()
	cfg.Catalog.Path = catalogPath
	llm := mocks.NewMockLLM(func(ctx context.Context, p *gollm.Prompt) (string, error) {
		return structuredReply, nil
	})
	app := newTestApp(t, cfg, llm)

	postAnalyze(t, app.Router, `{"message":"hi"}`)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode(t, rec)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "AI Nutritionist Backend", health["service"])
	assert.Equal(t, float64(2), health["products_loaded"])
	assert.Equal(t, true, health["sessions_enabled"])
	assert.Equal(t, float64(1), health["active_sessions"])
	assert.Equal(t, float64(30), health["session_timeout_minutes"])
	assert.Equal(t, "mock", health["provider"])

	prompt := llm.LastPrompt()
	assert.Contains(t, prompt.Messages[0].Content, "Iron Pearl Millet")

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(out), `nutritionist_http_requests_total{endpoint="/analyze",status="200"} 1`)
	assert.Contains(t, string(out), "nutritionist_sessions_created_total 1")
}

func TestApp_UnknownRoute(t *testing.T) {
	app := newTestApp(t, testConfig(), mocks.NewMockLLM(nil))

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/completions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewApp_RequiresBackend(t *testing.T) {
	_, err := NewApp(context.Background(), testConfig(), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestServer_ServeAndReload(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ShutdownTimeout = time.Second
	llm := mocks.NewMockLLM(func(ctx context.Context, p *gollm.Prompt) (string, error) {
		return "not json", nil
	})
	app := newTestApp(t, cfg, llm)

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	watcher := mocks.NewMockConfigWatcher(cfg)
	srv := NewServer(app, watcher, level, zaptest.NewLogger(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	updated := testConfig()
	updated.Logging.Level = "debug"
	updated.Reply.Fallback = string(reply.FallbackGeneric)
	updated.Reply.GenericSuggestions = []string{"Tell me more?"}
	watcher.UpdateConfig(updated)

	require.Eventually(t, func() bool {
		return level.Level() == zapcore.DebugLevel
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		resp, err := http.Post(url+"/analyze", "application/json", strings.NewReader(`{"message":"hi","use_session":false}`))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Suggestions []string `json:"suggestions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return len(body.Suggestions) == 1 && body.Suggestions[0] == "Tell me more?"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
