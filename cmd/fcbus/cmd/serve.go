package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zsiec/fcbus/internal/config"
	"github.com/zsiec/fcbus/internal/health"
	"github.com/zsiec/fcbus/internal/queue"
	"github.com/zsiec/fcbus/internal/server"
	"github.com/zsiec/fcbus/pkg/version"
)

var (
	serveFlags busFlags
	serveRun   bool
)

// serveCmd exposes a bench over the control API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a bench over the HTTP control API",
	Long: `Create a bench and expose it over HTTP (and HTTP/3 when configured). The bench is
stepped through POST /api/v1/bus/step, or runs in the background with --run.

Example:
  fcbus serve --config configs/default.yaml --run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd, serveFlags.apply(cmd))
		if err != nil {
			return err
		}
		log.WithField("version", version.GetInfo().Short()).Info("Starting fcbus control server")

		ctx, cancel := signalContext(context.Background(), log)
		defer cancel()

		b, src, err := newBench(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer src.Close()
		defer b.Close()

		if cfg.Metrics.Enabled {
			go startMetricsServer(cfg.Metrics, log)
		}

		srv := server.New(&cfg.Server, log, b)
		if src.Redis != nil {
			srv.RegisterChecker(health.NewRedisChecker(src.Redis))
		}
		if rtp := src.RTP; rtp != nil {
			srv.RegisterChecker(health.NewQueueChecker(func() queue.Stats { return rtp.Stats().Queue }, 0))
		}

		if serveRun {
			go func() {
				snap, err := b.Run(ctx)
				entry := log.WithFields(logrus.Fields{
					"frames":   snap.Frames,
					"failures": snap.Failures,
					"cycles":   snap.Cycles,
				})
				if err != nil && ctx.Err() == nil {
					entry.WithError(err).Error("Bench stopped")
					return
				}
				entry.Info("Bench finished")
			}()
		}

		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		log.Info("Server shutdown complete")
		return nil
	},
}

// startMetricsServer starts the Prometheus metrics server
func startMetricsServer(cfg config.MetricsConfig, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveFlags.register(serveCmd)
	serveCmd.Flags().BoolVar(&serveRun, "run", false, "Run the bench in the background instead of waiting for step requests")
}
