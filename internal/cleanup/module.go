package cleanup

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/bms/internal/auth"
	"github.com/elskow/bms/internal/config"
	"github.com/elskow/bms/internal/ratelimit"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			func(
				config *config.AppConfig,
				logger *zap.Logger,
				svc *auth.Service,
				limiters ratelimit.Limiters,
				throttle *ratelimit.Throttle,
			) *Manager {
				return NewManager(&config.Cleanup, logger, Tasks(&config.Cleanup, svc, limiters, throttle)...)
			},
		),
		fx.Invoke(registerHooks),
	)
}

// Tasks builds the cleanup tasks for the configured components. Sessions are
// only purged with a positive retention, and a nil throttle contributes no
// task.
func Tasks(
	config *config.CleanupConfig,
	svc *auth.Service,
	limiters ratelimit.Limiters,
	throttle *ratelimit.Throttle,
) []Task {
	tasks := []Task{
		{
			Name: "limiter_windows",
			Run: func(context.Context) (int, error) {
				return limiters.Prune(), nil
			},
		},
	}
	if config.SessionRetention > 0 {
		retention := config.SessionRetention
		tasks = append(tasks, Task{
			Name: "sessions",
			Run: func(ctx context.Context) (int, error) {
				return svc.PurgeSessions(ctx, retention)
			},
		})
	}
	if throttle != nil {
		idle := config.ThrottleIdle
		if idle <= 0 {
			idle = 10 * time.Minute
		}
		tasks = append(tasks, Task{
			Name: "throttle_visitors",
			Run: func(context.Context) (int, error) {
				return throttle.Prune(idle), nil
			},
		})
	}
	return tasks
}

func registerHooks(
	lifecycle fx.Lifecycle,
	config *config.AppConfig,
	manager *Manager,
	logger *zap.Logger,
) {
	if !config.Cleanup.Enabled {
		logger.Info("Periodic cleanup disabled")
		return
	}
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			manager.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return manager.Stop(ctx)
		},
	})
}
