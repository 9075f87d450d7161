package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zsiec/fcbus/internal/source"
)

var (
	enqueueCount   int
	enqueueHandler string
)

// enqueueCmd fills the Redis queue read by a redis source.
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue generated frames in Redis for a redis source",
	Long: `Generate frames with a built-in generator and append them to the Redis list the
redis source pops from.

Example:
  fcbus enqueue --handler incr_len --count 500`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd, nil)
		if err != nil {
			return err
		}
		handler := cfg.Source.Handler
		if enqueueHandler != "" {
			handler = enqueueHandler
		}

		frames, err := generateFrames(cmd.Context(), handler, enqueueCount)
		if err != nil {
			return err
		}

		client, err := source.DialRedis(cmd.Context(), cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		rc := source.NewRedisClient(client, cfg.Source.Redis.KeyPrefix, 0)
		if err := rc.EnqueueFrames(cmd.Context(), handler, frames...); err != nil {
			return err
		}
		pending, err := rc.Pending(cmd.Context(), handler)
		if err != nil {
			return err
		}

		log.WithField("key", rc.Key(handler)).Debug("Frames queued")
		fmt.Fprintf(cmd.OutOrStdout(), "queued %d frames on %s (%d pending)\n", len(frames), rc.Key(handler), pending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
	enqueueCmd.Flags().IntVar(&enqueueCount, "count", 100, "Frames to queue")
	enqueueCmd.Flags().StringVar(&enqueueHandler, "handler", "", "Generator to draw frames from (defaults to source.handler)")
}
