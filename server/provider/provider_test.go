package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ai-nutritionist/backend/config"
	"github.com/ai-nutritionist/backend/server/circuitbreaker"
	"github.com/ai-nutritionist/backend/server/conversation"
	"github.com/ai-nutritionist/backend/server/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
	"go.uber.org/zap/zaptest"
)

// fakeBackend is a scripted Backend.
type fakeBackend struct {
	calls    atomic.Int32
	complete func(ctx context.Context, messages []conversation.Turn, opts Options) (string, error)
}

func (f *fakeBackend) Name() string  { return "fake" }
func (f *fakeBackend) Model() string { return "fake-model" }

func (f *fakeBackend) Complete(ctx context.Context, messages []conversation.Turn, opts Options) (string, error) {
	f.calls.Add(1)
	return f.complete(ctx, messages, opts)
}

func reply(text string) func(context.Context, []conversation.Turn, Options) (string, error) {
	return func(context.Context, []conversation.Turn, Options) (string, error) { return text, nil }
}

func fail(err error) func(context.Context, []conversation.Turn, Options) (string, error) {
	return func(context.Context, []conversation.Turn, Options) (string, error) { return "", err }
}

var testMessages = []conversation.Turn{
	conversation.NewTurn(conversation.RoleSystem, "be helpful"),
	conversation.NewTurn(conversation.RoleUser, "I am tired"),
}

func newTestGateway(t *testing.T, backend Backend, threshold uint32) (*Gateway, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics()
	breaker := circuitbreaker.NewCircuitBreaker("test", config.CircuitBreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: threshold,
	}, zaptest.NewLogger(t), nil)
	return NewGateway(backend, breaker, m, zaptest.NewLogger(t), Options{Timeout: time.Second, MaxTokens: 64}), m
}

func TestGateway_Success(t *testing.T) {
	backend := &fakeBackend{complete: func(ctx context.Context, messages []conversation.Turn, opts Options) (string, error) {
		assert.Equal(t, 64, opts.MaxTokens)
		assert.Equal(t, testMessages, messages)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return "  \n{\"reply\":\"ok\"}\n ", nil
	}}
	gw, m := newTestGateway(t, backend, 3)

	out, err := gw.Complete(context.Background(), testMessages, Options{})
	require.NoError(t, err)
	assert.Equal(t, `{"reply":"ok"}`, out)

	h := gw.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, "fake", h.Provider)
	assert.Equal(t, "closed", h.BreakerState)
	assert.Equal(t, int64(1), h.RequestCount)
	assert.False(t, h.LastSuccess.IsZero())
	assert.Equal(t, 1, testutil.CollectAndCount(m.CompletionDuration))
}

func TestGateway_Failures(t *testing.T) {
	tests := []struct {
		name       string
		complete   func(context.Context, []conversation.Turn, Options) (string, error)
		wantReason string
	}{
		{"provider error", fail(errors.New("connection refused")), ReasonProvider},
		{"empty completion", reply("   "), ReasonEmpty},
		{"no choices", fail(ErrEmptyCompletion), ReasonEmpty},
		{"rate limited", fail(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}), ReasonRateLimited},
		{
			name: "backend ignores deadline",
			complete: func(ctx context.Context, _ []conversation.Turn, _ Options) (string, error) {
				time.Sleep(300 * time.Millisecond)
				return "too late", nil
			},
			wantReason: ReasonTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, m := newTestGateway(t, &fakeBackend{complete: tt.complete}, 10)

			start := time.Now()
			out, err := gw.Complete(context.Background(), testMessages, Options{Timeout: 50 * time.Millisecond})
			assert.Less(t, time.Since(start), 250*time.Millisecond)
			assert.Empty(t, out)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstreamUnavailable)

			var uerr *UpstreamError
			require.ErrorAs(t, err, &uerr)
			assert.Equal(t, tt.wantReason, uerr.Reason)
			assert.Equal(t, "fake", uerr.Provider)
			assert.Equal(t, float64(1), testutil.ToFloat64(m.CompletionErrors.WithLabelValues(tt.wantReason)))
			assert.Equal(t, 1, gw.Health().ConsecutiveFails)
		})
	}
}

func TestGateway_CircuitOpens(t *testing.T) {
	backend := &fakeBackend{complete: fail(errors.New("503 from provider"))}
	gw, _ := newTestGateway(t, backend, 2)

	for i := 0; i < 2; i++ {
		_, err := gw.Complete(context.Background(), testMessages, Options{})
		require.Error(t, err)
	}

	_, err := gw.Complete(context.Background(), testMessages, Options{})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, ReasonCircuitOpen, uerr.Reason)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), backend.calls.Load(), "open breaker short-circuits")

	h := gw.Health()
	assert.False(t, h.Healthy)
	assert.Equal(t, "open", h.BreakerState)
}

func TestGateway_ClientCancellation(t *testing.T) {
	backend := &fakeBackend{complete: func(ctx context.Context, _ []conversation.Turn, _ Options) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	gw, _ := newTestGateway(t, backend, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := gw.Complete(ctx, testMessages, Options{})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, ReasonCanceled, uerr.Reason)

	h := gw.Health()
	assert.True(t, h.Healthy, "cancellation must not trip the breaker")
	assert.Equal(t, 0, h.ConsecutiveFails)
}

func TestGateway_NoBreaker(t *testing.T) {
	gw := NewGateway(&fakeBackend{complete: reply("hi")}, nil, nil, zaptest.NewLogger(t), Options{})
	out, err := gw.Complete(context.Background(), testMessages, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, "", gw.Health().BreakerState)
}

// fakeChat records the last chat request.
type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAIBackend(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "answer"}}},
	}}
	b := &openAIBackend{name: "gemini", model: "gemini-1.5-flash", client: chat}

	turns := append(testMessages, conversation.NewTurn(conversation.RoleAssistant, "since when?"))
	out, err := b.Complete(context.Background(), turns, Options{MaxTokens: 100, Temperature: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	assert.Equal(t, "gemini-1.5-flash", chat.req.Model)
	assert.Equal(t, 100, chat.req.MaxTokens)
	assert.InDelta(t, 0.5, chat.req.Temperature, 0.001)
	require.Len(t, chat.req.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, chat.req.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, chat.req.Messages[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, chat.req.Messages[2].Role)

	chat.resp = openai.ChatCompletionResponse{}
	_, err = b.Complete(context.Background(), turns, Options{})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

type fakeGenerator struct {
	prompt *gollm.Prompt
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error) {
	f.prompt = prompt
	return "generated", nil
}

func TestGollmBackend(t *testing.T) {
	gen := &fakeGenerator{}
	b := NewGollmBackend("anthropic", "claude", gen)

	out, err := b.Complete(context.Background(), testMessages, Options{})
	require.NoError(t, err)
	assert.Equal(t, "generated", out)
	assert.Equal(t, "anthropic", b.Name())
	require.Len(t, gen.prompt.Messages, 2)
	assert.Equal(t, "system", gen.prompt.Messages[0].Role)
	assert.Equal(t, "I am tired", gen.prompt.Messages[1].Content)
}

// ollamaServer serves gollm's Ollama generate endpoint and records each body.
func ollamaServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32, <-chan map[string]interface{}) {
	t.Helper()
	var hits atomic.Int32
	bodies := make(chan map[string]interface{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/generate", r.URL.Path)
		var body map[string]interface{}
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			bodies <- body
		}
		if status != http.StatusOK {
			http.Error(w, `{"error":"model crashed"}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3","response":"{\"reply\":\"eat beans\"}","done":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, bodies
}

func TestGollmBackend_SingleAttempt(t *testing.T) {
	srv, hits, _ := ollamaServer(t, http.StatusInternalServerError)

	backend, err := NewBackend(config.LLMConfig{
		Provider:    "ollama",
		Model:       "llama3",
		APIKey:      "unused",
		Endpoint:    srv.URL,
		Temperature: 0.7,
		MaxTokens:   64,
	})
	require.NoError(t, err)
	gw, _ := newTestGateway(t, backend, 5)

	start := time.Now()
	_, err = gw.Complete(context.Background(), testMessages, Options{})
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, int32(1), hits.Load(), "provider must be called exactly once")
	assert.Less(t, time.Since(start), time.Second)
}

func TestGollmBackend_SendsSamplingOptions(t *testing.T) {
	srv, hits, bodies := ollamaServer(t, http.StatusOK)

	backend, err := NewBackend(config.LLMConfig{
		Provider:    "ollama",
		Model:       "llama3",
		APIKey:      "unused",
		Endpoint:    srv.URL,
		Temperature: 0.05,
		MaxTokens:   77,
	})
	require.NoError(t, err)

	out, err := backend.Complete(context.Background(), testMessages, Options{Temperature: 0.05, MaxTokens: 77})
	require.NoError(t, err)
	assert.Equal(t, `{"reply":"eat beans"}`, out)
	assert.Equal(t, int32(1), hits.Load())

	body := <-bodies
	assert.Equal(t, "llama3", body["model"])
	assert.InDelta(t, 0.05, body["temperature"], 0.0001)
	assert.EqualValues(t, 77, body["num_predict"])
}

func TestOpenAIBackend_ZeroTemperature(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "answer"}}},
	}}
	b := &openAIBackend{name: "openai", model: "gpt-4o-mini", client: chat}

	_, err := b.Complete(context.Background(), testMessages, Options{MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, float32(math.SmallestNonzeroFloat32), chat.req.Temperature)

	raw, err := json.Marshal(chat.req)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"temperature":`)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(config.LLMConfig{Provider: "gemini", Model: "gemini-1.5-flash", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", b.Name())

	b, err = NewBackend(config.LLMConfig{Provider: "OpenAI", Model: "gpt-4o-mini", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", b.Name())

	_, err = NewBackend(config.LLMConfig{Provider: "gemini", Model: "m"})
	assert.Error(t, err)
}

func TestUpstreamError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := error(&UpstreamError{Provider: "gemini", Reason: ReasonProvider, Err: cause})

	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gemini")
	assert.Contains(t, err.Error(), "dial tcp")
}
