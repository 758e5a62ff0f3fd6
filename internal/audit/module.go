package audit

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewStore,
			func(store Store, log *zap.Logger) *AsyncRecorder {
				return NewAsyncRecorder(store, log, 256)
			},
			func(r *AsyncRecorder) Recorder {
				return r
			},
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lifecycle fx.Lifecycle, recorder *AsyncRecorder, log *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			recorder.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Flushing audit entries")
			return recorder.Stop(ctx)
		},
	})
}
