package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/ai-nutritionist/backend/server/conversation"
	"github.com/go-playground/validator/v10"
)

// MaxMessageLength is the longest accepted message, in characters, after
// trimming.
const MaxMessageLength = 1000

// ErrInvalidInput matches every validation failure.
var ErrInvalidInput = errors.New("invalid input")

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Message    string          `json:"message" validate:"required,max=1000"`
	History    json.RawMessage `json:"history,omitempty"`
	SessionID  string          `json:"session_id,omitempty" validate:"omitempty,max=128,printascii"`
	UseSession *bool           `json:"use_session,omitempty"`
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`   // The field that failed validation
	Message string `json:"message"` // Human-readable error message
	Code    string `json:"code"`    // Machine-readable error code
}

// Error is returned for rejected requests. errors.Is reports true for
// ErrInvalidInput.
type Error struct {
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalidInput
}

// Details renders the field errors for an API error body.
func (e *Error) Details() map[string]interface{} {
	if len(e.Fields) == 0 {
		return nil
	}
	return map[string]interface{}{"fields": e.Fields}
}

// Validator checks request bodies with go-playground/validator.
type Validator struct {
	validate *validator.Validate
}

// New returns a Validator that reports fields by their JSON names.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// DecodeAnalyze reads and validates an AnalyzeRequest. The returned
// request has its message trimmed.
func (v *Validator) DecodeAnalyze(r io.Reader) (*AnalyzeRequest, error) {
	var req AnalyzeRequest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return nil, &Error{
			Message: "Invalid request format",
			Fields:  []FieldError{{Field: "body", Message: err.Error(), Code: "invalid_json"}},
		}
	}
	if err := v.ValidateAnalyze(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ValidateAnalyze trims the message and checks all request constraints.
func (v *Validator) ValidateAnalyze(req *AnalyzeRequest) error {
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = strings.TrimSpace(req.SessionID)

	var fields []FieldError
	if err := v.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &Error{Message: err.Error()}
		}
		for _, fe := range verrs {
			fields = append(fields, describe(fe))
		}
	}

	if err := ValidateHistory(req.History); err != nil {
		fields = append(fields, FieldError{Field: "history", Message: err.Error(), Code: "invalid_type"})
	}

	if len(fields) == 0 {
		return nil
	}
	return &Error{Message: fields[0].Message, Fields: fields}
}

// ValidateMessage applies the message rules to text on its own.
func ValidateMessage(text string) error {
	text = strings.TrimSpace(text)
	switch n := len([]rune(text)); {
	case n == 0:
		return &Error{Message: "message must not be empty"}
	case n > MaxMessageLength:
		return &Error{Message: fmt.Sprintf("message must be at most %d characters", MaxMessageLength)}
	}
	return nil
}

// ValidateHistory accepts absent or null history and JSON arrays.
func ValidateHistory(raw json.RawMessage) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || conversation.IsList(raw) {
		return nil
	}
	return fmt.Errorf("history must be a list")
}

func describe(fe validator.FieldError) FieldError {
	var msg string
	switch {
	case fe.Field() == "message" && fe.Tag() == "required":
		msg = "message must not be empty"
	case fe.Field() == "message" && fe.Tag() == "max":
		msg = fmt.Sprintf("message must be at most %s characters", fe.Param())
	case fe.Field() == "session_id":
		msg = "session_id must be a short printable identifier"
	default:
		msg = fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
	return FieldError{
		Field:   fe.Field(),
		Message: msg,
		Code:    fmt.Sprintf("%s_validation_failed", fe.Tag()),
	}
}
