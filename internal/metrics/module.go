package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/elskow/bms/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			func(cfg *config.AppConfig) *Metrics {
				if !cfg.Metrics.Enabled {
					return nil
				}
				return NewMetrics(prometheus.NewRegistry())
			},
		),
	)
}
