package validation

import (
	"time"

	"github.com/ai-nutritionist/backend/server/conversation"
	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// TokenCounter estimates prompt sizes. It uses a tiktoken encoding when one
// could be loaded and falls back to the four-bytes-per-token heuristic.
type TokenCounter struct {
	encoding Tokenizer
}

// perMessageOverhead approximates the role and separator tokens chat
// formats add to every message.
const perMessageOverhead = 4

// NewTokenCounter loads the encoding for model, or cl100k_base for models
// tiktoken does not know. Encodings may be fetched over the network, so the
// lookup gives up after timeout and the heuristic is used instead.
func NewTokenCounter(model string, timeout time.Duration) *TokenCounter {
	found := make(chan *tiktoken.Tiktoken, 1)
	go func() {
		enc, err := tiktoken.EncodingForModel(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			enc = nil
		}
		found <- enc
	}()

	select {
	case enc := <-found:
		if enc != nil {
			return &TokenCounter{encoding: enc}
		}
	case <-time.After(timeout):
	}
	return NewHeuristicCounter()
}

// NewTokenCounterWith uses the given tokenizer.
func NewTokenCounterWith(t Tokenizer) *TokenCounter {
	return &TokenCounter{encoding: t}
}

// NewHeuristicCounter counts tokens as len(text)/4.
func NewHeuristicCounter() *TokenCounter {
	return &TokenCounter{}
}

// Exact reports whether a real encoding is in use.
func (tc *TokenCounter) Exact() bool {
	return tc.encoding != nil
}

// CountText counts the tokens in text.
func (tc *TokenCounter) CountText(text string) int {
	if tc.encoding == nil {
		return conversation.EstimateCost(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountTurns counts the tokens of a full message sequence.
func (tc *TokenCounter) CountTurns(turns []conversation.Turn) int {
	total := 0
	for _, t := range turns {
		total += tc.CountText(t.Text) + perMessageOverhead
	}
	return total
}
