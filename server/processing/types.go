// Package processing runs one conversational exchange: validate the
// message, resolve history or session, build the prompt, call the provider,
// normalize the reply and persist the turn.
package processing

import (
	"encoding/json"

	"github.com/ai-nutritionist/backend/server/validation"
)

// ErrInvalidInput is returned for requests rejected before any provider call.
var ErrInvalidInput = validation.ErrInvalidInput

// Request is one /analyze call.
type Request struct {
	Message string
	// History is the client-supplied transcript, used when not in session mode.
	History json.RawMessage
	// SessionID resumes a session. Unknown or expired ids start a new one.
	SessionID string
	// UseSession selects session mode. nil means true when sessions are enabled.
	UseSession *bool
	// ClientSeed feeds session id generation, typically the remote address.
	ClientSeed string
	RequestID  string
}

// Response is the client reply contract.
type Response struct {
	Reply        string   `json:"reply"`
	Suggestions  []string `json:"suggestions"`
	SessionID    string   `json:"session_id,omitempty"`
	MessageCount int      `json:"message_count,omitempty"`
	BuyNow       *bool    `json:"buy_now,omitempty"`
}
