package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/elskow/bms/internal/config"
)

// incrWindow starts the expiry on the first attempt of a window so the
// counter and its TTL are set atomically.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter keeps fixed windows in redis so every instance sees the same
// counters.
type RedisLimiter struct {
	client *redis.Client
	policy config.LimitPolicy
	prefix string
}

func NewRedisLimiter(client *redis.Client, policy config.LimitPolicy, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{
		client: client,
		policy: validPolicy(policy),
		prefix: prefix,
	}
}

func (l *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (Decision, error) {
	count, err := l.client.Get(ctx, l.key(key)).Int()
	if err == redis.Nil {
		return Decision{Allowed: true, Remaining: l.policy.MaxAttempts}, nil
	}
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
	}

	if count < l.policy.MaxAttempts {
		return Decision{Allowed: true, Remaining: l.policy.MaxAttempts - count}, nil
	}

	ttl, err := l.client.PTTL(ctx, l.key(key)).Result()
	if err != nil || ttl <= 0 {
		ttl = l.policy.Window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}

func (l *RedisLimiter) Record(ctx context.Context, key string) error {
	err := incrWindow.Run(ctx, l.client, []string{l.key(key)}, l.policy.Window.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.key(key)).Err()
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
