package config

// Settings in this file shape the request/response pipeline: how much
// history reaches the model, what the model is told, and how its output is
// normalized.

// HistoryConfig bounds the client-supplied history window.
type HistoryConfig struct {
	// MaxRecords is how many of the most recent raw records are considered (default: 10)
	MaxRecords int `yaml:"max_records"`

	// MaxCost is the cumulative estimated token budget (default: 1500)
	MaxCost int `yaml:"max_cost"`
}

// ReplyConfig controls how model output is turned into the client contract.
type ReplyConfig struct {
	// Mode is "json" (reply + suggestions) or "text" (plain reply)
	Mode string `yaml:"mode"`

	// Fallback selects the suggestions returned when JSON parsing fails:
	// "empty" or "generic"
	Fallback string `yaml:"fallback"`

	// GenericSuggestions is the fixed set used by the "generic" fallback
	GenericSuggestions []string `yaml:"generic_suggestions"`

	// DefaultReply is used when the model returned nothing usable
	DefaultReply string `yaml:"default_reply"`

	// Apology is returned to the client when the provider fails
	Apology string `yaml:"apology"`

	// CleanMarkdown strips '*' emphasis and collapses blank lines in text mode
	CleanMarkdown bool `yaml:"clean_markdown"`

	// BuyNow enables the legacy buy_now flag
	BuyNow bool `yaml:"buy_now"`

	// BuyNowThreshold is the user message count that sets buy_now (default: 5)
	BuyNowThreshold int `yaml:"buy_now_threshold"`
}

// PromptConfig holds the system instruction template.
type PromptConfig struct {
	// SystemTemplate is a text/template rendered with the product catalog.
	// Empty selects the built-in instruction.
	SystemTemplate string `yaml:"system_template"`
}
