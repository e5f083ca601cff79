// Package session keeps server-side conversation state between requests.
//
// A Session starts with a fixed system turn at index 0 that is never
// evicted; the rest of the message list is capped to the most recent
// MaxHistory entries. Stores hand out copies, never their internal state.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/ai-nutritionist/backend/server/conversation"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

const (
	defaultTimeout    = 30 * time.Minute
	defaultMaxHistory = 20
)

// Session is one ongoing, server-tracked conversation.
type Session struct {
	ID           string              `json:"session_id"`
	Messages     []conversation.Turn `json:"messages"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
	MessageCount int                 `json:"message_count"`
}

// Store defines session storage operations. Implementations must be safe
// for concurrent use.
type Store interface {
	// GetOrCreate returns the live session for id with its last activity
	// refreshed. When id is empty, unknown or expired a new session seeded
	// with system is created; created reports which case happened.
	GetOrCreate(ctx context.Context, id, seed string, system conversation.Turn) (sess *Session, created bool, err error)

	// Append adds turn to the session, counts user turns, and applies the
	// history cap. Returns ErrNotFound for unknown sessions.
	Append(ctx context.Context, id string, turn conversation.Turn) (*Session, error)

	// Get is a read-only lookup. Returns ErrNotFound for unknown or expired sessions.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session. Returns ErrNotFound for unknown sessions.
	Delete(ctx context.Context, id string) error

	// ExpireStale removes sessions idle since before now minus the timeout
	// and reports how many were removed.
	ExpireStale(ctx context.Context, now time.Time) (int, error)

	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

func newSession(id string, system conversation.Turn, now time.Time) *Session {
	system.Role = conversation.RoleSystem
	return &Session{
		ID:           id,
		Messages:     []conversation.Turn{system},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// append adds turn and trims the list to the system entry plus the newest
// maxHistory entries.
func (s *Session) append(turn conversation.Turn, now time.Time, maxHistory int) {
	s.Messages = append(s.Messages, turn)
	if turn.Role == conversation.RoleUser {
		s.MessageCount++
	}
	s.LastActivity = now

	if len(s.Messages) > 1+maxHistory {
		kept := make([]conversation.Turn, 0, 1+maxHistory)
		kept = append(kept, s.Messages[0])
		kept = append(kept, s.Messages[len(s.Messages)-maxHistory:]...)
		s.Messages = kept
	}
}

func (s *Session) expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) > timeout
}

func (s *Session) clone() *Session {
	c := *s
	c.Messages = make([]conversation.Turn, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// Option configures a store.
type Option func(*options)

type options struct {
	timeout    time.Duration
	maxHistory int
	now        func() time.Time
	keyPrefix  string
}

func buildOptions(opts []Option) options {
	o := options{
		timeout:    defaultTimeout,
		maxHistory: defaultMaxHistory,
		now:        time.Now,
		keyPrefix:  "session:",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithTimeout sets the idle timeout after which sessions expire.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxHistory sets how many non-system messages a session keeps.
func WithMaxHistory(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxHistory = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithKeyPrefix namespaces keys in external stores.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}
