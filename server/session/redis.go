package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ai-nutritionist/backend/server/conversation"
	"github.com/redis/go-redis/v9"
)

// Verify at compile time that RedisStore implements Store
var _ Store = (*RedisStore)(nil)

const maxTxRetries = 5

// RedisStore keeps sessions in Redis so several instances can share them.
// Expiry is delegated to key TTLs refreshed on every write; reads also
// check last activity so behavior matches the memory store.
type RedisStore struct {
	client *redis.Client
	opts   options
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   buildOptions(opts),
	}
}

// GetOrCreate implements Store.
func (s *RedisStore) GetOrCreate(ctx context.Context, id, seed string, system conversation.Turn) (*Session, bool, error) {
	if id != "" {
		sess, err := s.update(ctx, id, func(sess *Session, now time.Time) {
			sess.LastActivity = now
		})
		if err == nil {
			return sess, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		now := s.opts.now()
		sess := newSession(NewID(seed, now), system, now)
		data, err := json.Marshal(sess)
		if err != nil {
			return nil, false, fmt.Errorf("encode session: %w", err)
		}
		ok, err := s.client.SetNX(ctx, s.key(sess.ID), data, s.opts.timeout).Result()
		if err != nil {
			return nil, false, fmt.Errorf("create session: %w", err)
		}
		if ok {
			return sess, true, nil
		}
	}
	return nil, false, fmt.Errorf("create session: id collision")
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, id string, turn conversation.Turn) (*Session, error) {
	return s.update(ctx, id, func(sess *Session, now time.Time) {
		sess.append(turn, now, s.opts.maxHistory)
	})
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess, err := decodeSession(data)
	if err != nil {
		return nil, err
	}
	if sess.expired(s.opts.now(), s.opts.timeout) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireStale implements Store. Redis drops idle sessions through key TTLs,
// so there is nothing to sweep.
func (s *RedisStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Count implements Store by scanning the key prefix.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.opts.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// update applies fn to the stored session inside WATCH/MULTI/EXEC and
// refreshes the TTL. Concurrent writers are retried.
func (s *RedisStore) update(ctx context.Context, id string, fn func(*Session, time.Time)) (*Session, error) {
	key := s.key(id)
	var result *Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		sess, err := decodeSession(data)
		if err != nil {
			return err
		}
		now := s.opts.now()
		if sess.expired(now, s.opts.timeout) {
			return ErrNotFound
		}

		fn(sess, now)
		encoded, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.opts.timeout)
			return nil
		})
		if err == nil {
			result = sess
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	return nil, fmt.Errorf("update session: too many concurrent writers")
}

func (s *RedisStore) key(id string) string {
	return s.opts.keyPrefix + id
}

func decodeSession(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}
