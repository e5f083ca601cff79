// Package prompt builds the message sequence sent to the completion provider.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/ai-nutritionist/backend/server/catalog"
	"github.com/ai-nutritionist/backend/server/conversation"
)

// Mode selects the output format the model is asked for.
type Mode string

const (
	ModeJSON Mode = "json"
	ModeText Mode = "text"
)

// DefaultTemplate is the built-in system instruction.
const DefaultTemplate = `You are an AI Nutritionist who specializes in identifying micronutrient deficiencies and educating users about biofortification.

When the user describes how they feel:
1. Greet the user warmly.
2. Identify up to 3 relevant micronutrient deficiencies linked to their concern.
3. Explain the concept of biofortification simply and clearly.
4. End with an encouraging or practical tip related to daily nutrition.
Ask a short follow-up question when you need more detail.
{{- if .Products}}

Biofortified products you may mention when they are clearly relevant:
{{- range .Products}}
• {{.Name}}{{if .Benefit}}: {{.Benefit}}{{end}}{{if .Price}} ({{.Price}}){{end}}{{if .Variants}} [variants: {{join .Variants ", "}}]{{end}}
{{- end}}
Never invent products that are not on this list.
{{- else}}

Do NOT recommend or mention any specific products.
{{- end}}

Important:
• Do NOT use markdown (e.g. *, **).
• Use simple line breaks and bullet points (•) for formatting.
• Keep the tone helpful, friendly, and conversational.
• Use emojis sparingly to maintain a human tone.
{{- if .JSON}}

Respond ONLY with a JSON object of the form
{"reply": "<your answer>", "suggestions": ["<follow-up question>", "..."]}
where suggestions holds up to 3 short follow-up questions the user might ask next.
Do not wrap the JSON in code fences.
{{- end}}`

// Assembler renders the system instruction and combines it with history.
type Assembler struct {
	instruction string
}

type templateData struct {
	Products []catalog.Product
	Mode     Mode
	JSON     bool
}

// NewAssembler parses tmpl (DefaultTemplate when empty) and renders it over
// the catalog. The catalog is read-only, so the result is computed once.
func NewAssembler(tmpl string, cat *catalog.Catalog, mode Mode) (*Assembler, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}

	t, err := template.New("system").
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse system template: %w", err)
	}

	var b strings.Builder
	data := templateData{
		Products: cat.Products(),
		Mode:     mode,
		JSON:     mode != ModeText,
	}
	if err := t.Execute(&b, data); err != nil {
		return nil, fmt.Errorf("render system template: %w", err)
	}

	instruction := strings.TrimSpace(b.String())
	if instruction == "" {
		return nil, fmt.Errorf("system template rendered empty")
	}
	return &Assembler{instruction: instruction}, nil
}

// Instruction returns the rendered system instruction.
func (a *Assembler) Instruction() string {
	return a.instruction
}

// SystemTurn returns the instruction as a system turn, used to seed sessions.
func (a *Assembler) SystemTurn() conversation.Turn {
	return conversation.NewTurn(conversation.RoleSystem, a.instruction)
}

// Assemble returns [system] + window + [user message]. window must already
// be chronological.
func (a *Assembler) Assemble(window []conversation.Turn, message string) []conversation.Turn {
	out := make([]conversation.Turn, 0, len(window)+2)
	out = append(out, a.SystemTurn())
	out = append(out, window...)
	out = append(out, conversation.NewTurn(conversation.RoleUser, message))
	return out
}

// FromSession returns a session message list as the provider sequence. The
// list already starts with the system turn and ends with the user message.
func (a *Assembler) FromSession(messages []conversation.Turn) []conversation.Turn {
	out := make([]conversation.Turn, len(messages))
	copy(out, messages)
	return out
}
