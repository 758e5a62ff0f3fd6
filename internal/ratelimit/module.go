package ratelimit

import (
	"context"

	"github.com/go-redis/redis/v8"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/bms/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			newRedisClient,
			NewLimiters,
			func(cfg *config.AppConfig) *Throttle {
				return NewThrottle(cfg.RateLimit.Throttle)
			},
		),
	)
}

// newRedisClient yields nil for the memory backend.
func newRedisClient(lifecycle fx.Lifecycle, cfg *config.AppConfig, log *zap.Logger) (*redis.Client, error) {
	if cfg.RateLimit.Backend != "redis" {
		return nil, nil
	}

	client, err := NewRedisClient(context.Background(), cfg.RateLimit.RedisURL)
	if err != nil {
		return nil, err
	}
	log.Info("Using redis rate limiter backend")

	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// NewLimiters builds the login and registration limiters for the configured
// backend.
func NewLimiters(cfg *config.AppConfig, client *redis.Client) Limiters {
	rl := cfg.RateLimit
	if client != nil {
		return Limiters{
			Login:    NewRedisLimiter(client, rl.Login, "bms:ratelimit:login"),
			Register: NewRedisLimiter(client, rl.Register, "bms:ratelimit:register"),
		}
	}
	return Limiters{
		Login:    NewMemoryLimiter(rl.Login),
		Register: NewMemoryLimiter(rl.Register),
	}
}
