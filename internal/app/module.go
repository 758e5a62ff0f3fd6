package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/bms/internal/audit"
	"github.com/elskow/bms/internal/auth"
	"github.com/elskow/bms/internal/cleanup"
	"github.com/elskow/bms/internal/config"
	"github.com/elskow/bms/internal/database"
	"github.com/elskow/bms/internal/metrics"
	"github.com/elskow/bms/internal/migration"
	"github.com/elskow/bms/internal/ratelimit"
	"github.com/elskow/bms/internal/server"
)

// Module combines all application modules. Start hooks run in the order the
// modules are listed, so the schema is current before seeding and serving.
func Module() fx.Option {
	return fx.Options(
		// Logger
		fx.Provide(newLogger),

		// Configuration
		fx.Provide(server.LoadConfig),

		// Storage
		database.Module(),
		migration.Module(),
		fx.Provide(func(m *database.Manager) server.Pinger {
			return m
		}),

		// Supporting services
		metrics.Module(),
		ratelimit.Module(),
		audit.Module(),

		// Auth Module
		auth.NewModule(),
		cleanup.Module(),

		// Server
		fx.Provide(server.NewServer),

		// Start the server
		fx.Invoke(registerHooks),
	)
}

func newLogger() (*zap.Logger, error) {
	env := os.Getenv("APP_ENV")
	return server.NewLogger(env)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	cfg *config.AppConfig,
	srv *server.Server,
	log *zap.Logger,
) {
	if cfg.Auth.GeneratedSecret {
		log.Warn("auth.jwt_secret is empty; using a random secret, tokens will not survive a restart")
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server...")
			return srv.Stop(ctx)
		},
	})
}
