package auth

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/bms/internal/audit"
	"github.com/elskow/bms/internal/config"
	"github.com/elskow/bms/internal/metrics"
	"github.com/elskow/bms/internal/ratelimit"
)

func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(
					config *config.AppConfig,
					log *zap.Logger,
					repo Repository,
					limiters ratelimit.Limiters,
					recorder audit.Recorder,
					m *metrics.Metrics,
				) *Service {
					return NewService(&config.Auth, log, repo, limiters, recorder, m)
				},
			),
			func(svc *Service, recorder audit.Recorder, log *zap.Logger) *Middleware {
				return NewMiddleware(svc, recorder, log)
			},
			func(config *config.AppConfig, svc *Service, log *zap.Logger) *Handler {
				return NewHandler(svc, log, config.Debug())
			},
			func(config *config.AppConfig, svc *Service, store audit.Store, log *zap.Logger) *AdminHandler {
				return NewAdminHandler(svc, store, log, config.Debug())
			},
		),
		fx.Invoke(registerSeeding),
	)
}

// registerSeeding creates the configured system accounts on start when
// auth.seed_on_start is set. Migrations run in an earlier hook.
func registerSeeding(lifecycle fx.Lifecycle, config *config.AppConfig, svc *Service, log *zap.Logger) {
	if !config.Auth.SeedOnStart {
		return
	}
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			created, err := svc.Seed(ctx, config.Auth.SeedAccounts)
			if err != nil {
				return err
			}
			log.Info("Seeded system accounts", zap.Int("created", created))
			return nil
		},
	})
}
