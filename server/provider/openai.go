package provider

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/ai-nutritionist/backend/server/conversation"
	"github.com/sashabaranov/go-openai"
)

// GeminiBaseURL is Google's OpenAI-compatible endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// chatClient is the subset of *openai.Client used here.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type openAIBackend struct {
	name   string
	model  string
	client chatClient
}

func newOpenAIBackend(name, model, apiKey, endpoint string) *openAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	// Deadlines come from the request context.
	cfg.HTTPClient = &http.Client{}

	return &openAIBackend{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (b *openAIBackend) Name() string  { return b.name }
func (b *openAIBackend) Model() string { return b.model }

func (b *openAIBackend) Complete(ctx context.Context, messages []conversation.Turn, opts Options) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   opts.MaxTokens,
		Temperature: requestTemperature(opts.Temperature),
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// requestTemperature keeps a zero temperature on the wire. go-openai omits a
// zero value, which would leave the provider default in effect.
func requestTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func toOpenAIMessages(turns []conversation.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case conversation.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case conversation.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return out
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests
}
