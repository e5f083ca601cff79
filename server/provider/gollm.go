package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/ai-nutritionist/backend/config"
	"github.com/ai-nutritionist/backend/server/conversation"
	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
)

// Generator is the part of gollm.LLM the backend needs.
type Generator interface {
	Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error)
}

type gollmBackend struct {
	name  string
	model string
	llm   Generator
}

func newGollmBackend(cfg config.LLMConfig) (Backend, error) {
	provider := strings.ToLower(cfg.Provider)
	opts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(cfg.Model),
		gollm.SetAPIKey(cfg.APIKey),
		gollm.SetTemperature(cfg.Temperature),
		gollm.SetMaxTokens(cfg.MaxTokens),
		// One attempt per request; the gateway reports failures immediately.
		gollm.SetMaxRetries(0),
		gollm.SetRetryDelay(0),
	}
	if provider == "ollama" && cfg.Endpoint != "" {
		opts = append(opts, gollm.SetOllamaEndpoint(cfg.Endpoint))
	}

	l, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	// gollm builds the request body from the client options, not from the
	// provider defaults set above.
	l.SetOption("temperature", cfg.Temperature)
	l.SetOption(maxTokensOption(provider), cfg.MaxTokens)

	return NewGollmBackend(provider, cfg.Model, l), nil
}

func maxTokensOption(provider string) string {
	if provider == "ollama" {
		return "num_predict"
	}
	return "max_tokens"
}

// NewGollmBackend adapts an existing gollm client.
func NewGollmBackend(name, model string, g Generator) Backend {
	return &gollmBackend{name: name, model: model, llm: g}
}

func (b *gollmBackend) Name() string  { return b.name }
func (b *gollmBackend) Model() string { return b.model }

// Complete sends the turns as one gollm prompt. Temperature and output
// length come from the client options applied by newGollmBackend, which match
// the gateway defaults; only the deadline in ctx varies per call.
func (b *gollmBackend) Complete(ctx context.Context, messages []conversation.Turn, opts Options) (string, error) {
	return b.llm.Generate(ctx, toPrompt(messages))
}

func toPrompt(turns []conversation.Turn) *gollm.Prompt {
	msgs := make([]gollm.PromptMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, gollm.PromptMessage{Role: string(t.Role), Content: t.Text})
	}
	return &gollm.Prompt{Messages: msgs}
}
