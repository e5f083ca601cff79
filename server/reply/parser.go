// Package reply turns raw model output into the client reply contract.
//
// Parsing is total: whatever the model returns, Parse produces a usable
// reply. Malformed structured output falls back to the raw text.
package reply

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/ai-nutritionist/backend/config"
)

// Fallback selects the suggestions used when structured parsing fails.
type Fallback string

const (
	FallbackEmpty   Fallback = "empty"
	FallbackGeneric Fallback = "generic"
)

const fence = "```"

// fenceTag matches an opening fence with its language tag, in any case.
var fenceTag = regexp.MustCompile("(?im)" + fence + "(?:[ \\t]*[a-z0-9_+-]*[ \\t]*$|json)")

// Parsed is the normalized model output.
type Parsed struct {
	Reply       string
	Suggestions []string
	// Fallback is true when structured parsing failed and the raw text was used.
	Fallback bool
}

// Parser converts raw completions into Parsed replies. It is safe for
// concurrent use; the fallback policy can be swapped at runtime.
type Parser struct {
	textMode      bool
	cleanMarkdown bool
	defaultReply  string

	mu       sync.RWMutex
	fallback Fallback
	generic  []string
}

// NewParser builds a parser from reply configuration.
func NewParser(cfg config.ReplyConfig) *Parser {
	p := &Parser{
		textMode:      cfg.Mode == "text",
		cleanMarkdown: cfg.CleanMarkdown,
		defaultReply:  strings.TrimSpace(cfg.DefaultReply),
	}
	if p.defaultReply == "" {
		p.defaultReply = config.DefaultConfig().Reply.DefaultReply
	}
	p.SetFallback(Fallback(cfg.Fallback), cfg.GenericSuggestions)
	return p
}

// SetFallback replaces the fallback policy.
func (p *Parser) SetFallback(mode Fallback, generic []string) {
	g := make([]string, 0, len(generic))
	for _, s := range generic {
		if s = strings.TrimSpace(s); s != "" {
			g = append(g, s)
		}
	}

	p.mu.Lock()
	p.fallback = mode
	p.generic = g
	p.mu.Unlock()
}

// Parse never fails.
func (p *Parser) Parse(raw string) Parsed {
	if p.textMode {
		return Parsed{Reply: p.orDefault(p.cleanText(raw)), Suggestions: []string{}}
	}

	if parsed, ok := parseStructured(raw); ok {
		return parsed
	}

	return Parsed{
		Reply:       p.orDefault(stripFences(raw)),
		Suggestions: p.fallbackSuggestions(),
		Fallback:    true,
	}
}

func (p *Parser) orDefault(s string) string {
	if s == "" {
		return p.defaultReply
	}
	return s
}

func (p *Parser) cleanText(raw string) string {
	text := strings.TrimSpace(raw)
	if !p.cleanMarkdown {
		return text
	}
	text = strings.ReplaceAll(text, "*", "")
	for strings.Contains(text, "\n\n") {
		text = strings.ReplaceAll(text, "\n\n", "\n")
	}
	return strings.TrimSpace(text)
}

func (p *Parser) fallbackSuggestions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.fallback != FallbackGeneric {
		return []string{}
	}
	out := make([]string, len(p.generic))
	copy(out, p.generic)
	return out
}

// parseStructured decodes {"reply": string, "suggestions": [string]}. When
// the text contains a code fence, the candidate is the span between the first
// '{' and the last '}'.
func parseStructured(raw string) (Parsed, bool) {
	candidate := strings.TrimSpace(raw)
	if strings.Contains(raw, fence) {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start >= 0 && end > start {
			candidate = raw[start : end+1]
		}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil || obj == nil {
		return Parsed{}, false
	}

	var text string
	if err := json.Unmarshal(obj["reply"], &text); err != nil {
		return Parsed{}, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Parsed{}, false
	}

	return Parsed{Reply: text, Suggestions: suggestions(obj["suggestions"])}, true
}

// suggestions keeps the non-blank string elements of a JSON array. Anything
// that is not an array yields an empty list.
func suggestions(raw json.RawMessage) []string {
	out := []string{}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripFences(raw string) string {
	s := fenceTag.ReplaceAllString(raw, "")
	s = strings.ReplaceAll(s, fence, "")
	return strings.TrimSpace(s)
}

// BuyNow reports whether the conversation has reached the purchase prompt
// threshold.
func BuyNow(messageCount, threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return messageCount >= threshold
}
