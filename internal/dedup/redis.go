package dedup

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "sportswire:seen"

// RedisBackend keeps the fingerprint set in a Redis set so it survives
// restarts.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
}

func NewRedisBackend(client redis.UniversalClient, key string) *RedisBackend {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{client: client, key: key}
}

// NewRedisBackendFromURL parses a redis:// URL and pings the server.
func NewRedisBackendFromURL(ctx context.Context, url, key string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisBackend(client, key), nil
}

func (r *RedisBackend) Add(ctx context.Context, fp string) (bool, error) {
	n, err := r.client.SAdd(ctx, r.key, fp).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *RedisBackend) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
