// Package conversation models chat turns and turns loosely shaped client
// history into a bounded, chronological window.
package conversation

import "strings"

// Role identifies the speaker of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Turns are values and are never
// modified after construction.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
	Cost int    `json:"cost"`
}

// NewTurn builds a turn from trimmed text and computes its estimated cost.
func NewTurn(role Role, text string) Turn {
	text = strings.TrimSpace(text)
	return Turn{Role: role, Text: text, Cost: EstimateCost(text)}
}

// EstimateCost approximates the token count of text as one token per four
// bytes.
func EstimateCost(text string) int {
	return len(text) / 4
}

// ParseRole maps a free-form sender label onto a role. "user" and "human"
// (any case) are users, everything else is the assistant.
func ParseRole(sender string) Role {
	switch strings.ToLower(strings.TrimSpace(sender)) {
	case "user", "human":
		return RoleUser
	default:
		return RoleAssistant
	}
}

// TotalCost sums the estimated cost of turns.
func TotalCost(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += t.Cost
	}
	return total
}
