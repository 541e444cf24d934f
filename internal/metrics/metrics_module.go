package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	tcconfig "github.com/quantcore/tradengine/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RegisterExporter exposes reg's collectors over HTTP at cfg.Metrics.Addr,
// starting and stopping the server with the fx app's own lifecycle. An empty
// Addr disables the exporter.
func RegisterExporter(lc fx.Lifecycle, reg *prometheus.Registry, cfg *tcconfig.Config, log *zap.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}

	server := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics exporter", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics exporter stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
