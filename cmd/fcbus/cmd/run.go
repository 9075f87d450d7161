package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zsiec/fcbus/internal/harness"
)

var runFlags busFlags

// runCmd runs the bench to completion and reports the verdict.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream frames through the bench and check them",
	Long: `Stream frames from the configured source through the beat streamer and the
req/ack handshake, reassemble every frame and compare it with what the source sent.

Example:
  fcbus run --width 16 --frames 100 --req-delay 2 --gate 1101`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd, runFlags.apply(cmd))
		if err != nil {
			return err
		}
		ctx, cancel := signalContext(context.Background(), log)
		defer cancel()

		b, src, err := newBench(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer src.Close()
		defer b.Close()

		snap, runErr := b.Run(ctx)
		printSummary(cmd, snap)
		if runErr != nil && ctx.Err() == nil {
			return runErr
		}
		if !snap.Pass {
			return fmt.Errorf("%d of %d frames failed the check", snap.Failures, snap.Frames)
		}
		return nil
	},
}

func printSummary(cmd *cobra.Command, snap harness.Snapshot) {
	out := cmd.OutOrStdout()
	verdict := "PASS"
	if !snap.Pass {
		verdict = "FAIL"
	}
	fmt.Fprintf(out, "run %s  width %s  req_delay %d\n", snap.RunID, snap.Width, snap.ReqDelay)
	fmt.Fprintf(out, "  cycles   %d (%d active, %d idle)\n", snap.Cycles, snap.ActiveCycles, snap.IdleCycles)
	fmt.Fprintf(out, "  beats    %d\n", snap.Beats)
	fmt.Fprintf(out, "  frames   %d checked, %d failed\n", snap.Frames, snap.Failures)
	if r := snap.LastResult; r != nil && !r.Pass {
		fmt.Fprintf(out, "  last     frame %d: %s\n", r.Frame, r.Reason)
	}
	if snap.Error != "" {
		fmt.Fprintf(out, "  error    %s\n", snap.Error)
	}
	fmt.Fprintf(out, "  verdict  %s\n", verdict)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runFlags.register(runCmd)
}
