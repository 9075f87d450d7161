package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/fcbus/internal/config"
	"github.com/zsiec/fcbus/internal/ui"
)

var (
	watchFlags    busFlags
	watchURL      string
	watchHTTP3    bool
	watchInsecure bool
	watchManual   bool
	watchInterval time.Duration
)

// watchCmd shows a live terminal view of a bench.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a bench in the terminal",
	Long: `Show the bench counters, the req/ack lines and the most recent beats in a live
terminal view. Without --url a local bench is created from the configuration.

Examples:
  fcbus watch --width 8 --paced
  fcbus watch --url https://localhost:8443 --http3 --insecure`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchURL != "" {
			client := newHTTPClient(watchHTTP3, watchInsecure, 5*time.Second)
			return ui.Run(cmd.Context(), ui.NewHTTPFeed(watchURL, client), watchInterval)
		}

		cfg, log, err := setup(cmd, func(cfg *config.Config) {
			watchFlags.apply(cmd)(cfg)
			// Keep the alternate screen clean.
			if cfg.Logging.Output == "stdout" {
				cfg.Logging.Output = "stderr"
			}
			if !cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = "error"
			}
		})
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		b, src, err := newBench(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer src.Close()
		defer b.Close()

		if !watchManual {
			go func() {
				_, _ = b.Run(ctx)
			}()
		}
		return ui.Run(ctx, ui.BenchFeed{Bench: b}, watchInterval)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchFlags.register(watchCmd)
	fl := watchCmd.Flags()
	fl.StringVar(&watchURL, "url", "", "Control API base URL of a running fcbus serve")
	fl.BoolVar(&watchHTTP3, "http3", false, "Use HTTP/3 to reach --url")
	fl.BoolVar(&watchInsecure, "insecure", false, "Skip TLS certificate verification")
	fl.BoolVar(&watchManual, "manual", false, "Do not run the local bench; step it with s and S")
	fl.DurationVar(&watchInterval, "interval", ui.DefaultInterval, "Refresh interval")
}
