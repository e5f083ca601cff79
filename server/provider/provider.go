// Package provider talks to the completion provider. A Backend adapts one
// client library; the Gateway wraps it with the wall-clock timeout, the
// circuit breaker, metrics and health tracking.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ai-nutritionist/backend/config"
	"github.com/ai-nutritionist/backend/server/conversation"
)

// Options tune one completion call. Zero fields use the gateway defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func (o Options) withDefaults(d Options) Options {
	if o.Temperature == 0 {
		o.Temperature = d.Temperature
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// OptionsFromConfig returns the default call options for cfg.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}
}

// Backend sends a message sequence to a provider and returns the raw text.
type Backend interface {
	Name() string
	Model() string
	Complete(ctx context.Context, messages []conversation.Turn, opts Options) (string, error)
}

// NewBackend builds the backend for cfg.Provider. "openai" and "gemini" use
// the OpenAI-compatible chat API; any other provider is delegated to gollm.
func NewBackend(cfg config.LLMConfig) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key for provider %s", cfg.Provider)
	}

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIBackend("openai", cfg.Model, cfg.APIKey, cfg.Endpoint), nil
	case "gemini":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = GeminiBaseURL
		}
		return newOpenAIBackend("gemini", cfg.Model, cfg.APIKey, endpoint), nil
	default:
		return newGollmBackend(cfg)
	}
}
