package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker реализует Locker поверх Redis SET NX PX.
// Годится для нескольких инстансов бота: атомарность гарантирует Redis.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker создаёт блокировщик с префиксом ключей.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.name(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.name(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (l *RedisLocker) name(key string) string {
	return l.prefix + ":" + key
}
