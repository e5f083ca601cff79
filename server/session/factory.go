package session

import (
	"context"
	"fmt"

	"github.com/ai-nutritionist/backend/config"
	"github.com/redis/go-redis/v9"
)

// NewStore builds the store selected by cfg.Driver. The redis driver pings
// the server before returning.
func NewStore(ctx context.Context, cfg config.SessionConfig, opts ...Option) (Store, error) {
	opts = append([]Option{
		WithTimeout(cfg.Timeout),
		WithMaxHistory(cfg.MaxHistory),
	}, opts...)

	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(opts...), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		opts = append(opts, WithKeyPrefix(cfg.Redis.KeyPrefix))
		return NewRedisStore(client, opts...), nil
	default:
		return nil, fmt.Errorf("unknown session driver: %s", cfg.Driver)
	}
}
