package conversation

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Limits bounds a history window.
type Limits struct {
	// MaxRecords is how many of the most recent raw records are examined.
	MaxRecords int
	// MaxCost is the cumulative estimated token budget.
	MaxCost int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxRecords: 10, MaxCost: 1500}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxRecords <= 0 {
		l.MaxRecords = d.MaxRecords
	}
	if l.MaxCost <= 0 {
		l.MaxCost = d.MaxCost
	}
	return l
}

var (
	textFields   = []string{"text", "message"}
	senderFields = []string{"sender", "role"}
)

// IsList reports whether raw holds a JSON array. Absent or null input is
// not a list.
func IsList(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Normalize converts client-supplied history into a chronological window.
//
// Only the last MaxRecords raw entries are considered. They are walked
// newest first and accepted until the next turn would push the cumulative
// cost above MaxCost, so the oldest turns are the ones dropped. Input that
// is not a JSON array yields an empty window. Unusable records are skipped.
func Normalize(raw json.RawMessage, limits Limits) []Turn {
	limits = limits.withDefaults()

	if !IsList(raw) {
		return nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil
	}

	if len(records) > limits.MaxRecords {
		records = records[len(records)-limits.MaxRecords:]
	}

	window := make([]Turn, 0, len(records))
	total := 0
	for i := len(records) - 1; i >= 0; i-- {
		turn, ok := ExtractTurn(records[i])
		if !ok {
			continue
		}
		if total+turn.Cost > limits.MaxCost {
			break
		}
		total += turn.Cost
		window = append(window, turn)
	}

	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window
}

// ExtractTurn reads one history record. Text comes from "text" or
// "message" (first non-empty string wins), the sender from "sender" or
// "role" and defaults to the user. ok is false for records that are not
// objects or carry no text.
func ExtractTurn(record json.RawMessage) (turn Turn, ok bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil || fields == nil {
		return Turn{}, false
	}

	text := firstString(fields, textFields)
	if text == "" {
		return Turn{}, false
	}

	sender := firstString(fields, senderFields)
	if sender == "" {
		sender = string(RoleUser)
	}

	return NewTurn(ParseRole(sender), text), true
}

// firstString returns the first field among keys holding a non-blank string.
func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}
