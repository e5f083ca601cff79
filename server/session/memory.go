package session

import (
	"context"
	"sync"
	"time"

	"github.com/ai-nutritionist/backend/server/conversation"
)

// Verify at compile time that MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps sessions in process memory. Every operation sweeps
// expired sessions first, so no background timer is required. Sessions are
// not shared between instances.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     options
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		opts:     buildOptions(opts),
	}
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(ctx context.Context, id, seed string, system conversation.Turn) (*Session, bool, error) {
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			sess.LastActivity = now
			return sess.clone(), false, nil
		}
	}

	sess := newSession(NewID(seed, now), system, now)
	s.sessions[sess.ID] = sess
	return sess.clone(), true, nil
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, id string, turn conversation.Turn) (*Session, error) {
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	sess.append(turn, now, s.opts.maxHistory)
	return sess.clone(), nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.opts.now())

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.opts.now())

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// ExpireStale implements Store.
func (s *MemoryStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(now), nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.opts.now())
	return len(s.sessions), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) expireLocked(now time.Time) int {
	removed := 0
	for id, sess := range s.sessions {
		if sess.expired(now, s.opts.timeout) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
