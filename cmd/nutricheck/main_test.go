package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ai-nutritionist/backend/config"
	"github.com/ai-nutritionist/backend/server/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"
	"go.uber.org/zap/zaptest"
)

func TestPrintSummary(t *testing.T) {
	cfg := config.DefaultConfig()
	var buf bytes.Buffer
	printSummary(&buf, cfg)

	out := buf.String()
	assert.Contains(t, out, "gemini (gemini-1.5-flash)")
	assert.Contains(t, out, "memory, timeout 30m0s")

	cfg.Session.Enabled = false
	buf.Reset()
	printSummary(&buf, cfg)
	assert.Contains(t, buf.String(), "sessions:  disabled")
}

func TestProbeWith(t *testing.T) {
	cfg := config.DefaultConfig()
	llm := mocks.NewMockLLM(func(ctx context.Context, p *gollm.Prompt) (string, error) {
		return `{"reply":"Check your iron intake.","suggestions":["Do you eat meat?"]}`, nil
	})

	var buf bytes.Buffer
	err := probeWith(context.Background(), &buf, cfg, llm.Backend(), "tired", zaptest.NewLogger(t))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "provider mock answered")
	assert.Contains(t, out, "structured: true")
	assert.Contains(t, out, "Check your iron intake.")
	assert.Contains(t, out, "Do you eat meat?")

	p := llm.LastPrompt()
	require.Len(t, p.Messages, 2)
	assert.Equal(t, "tired", p.Messages[1].Content)
}

func TestProbeWith_ProviderError(t *testing.T) {
	llm := mocks.NewMockLLM(func(ctx context.Context, p *gollm.Prompt) (string, error) {
		return "", errors.New("unauthorized")
	})

	err := probeWith(context.Background(), &bytes.Buffer{}, config.DefaultConfig(), llm.Backend(), "hi", zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestProbe_MissingKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = ""
	err := probe(context.Background(), &bytes.Buffer{}, cfg, "hi", zaptest.NewLogger(t))
	assert.Error(t, err)
}
