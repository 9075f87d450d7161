package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	dumpFlags  busFlags
	dumpCycles int
	dumpAll    bool
)

// dumpCmd steps the bench and prints the beats it drives.
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the beats driven over a number of cycles",
	Long: `Step the bench edge by edge and print every valid beat as a field dump.

Example:
  fcbus dump --width 8 --cycles 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd, dumpFlags.apply(cmd))
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

		out := cmd.OutOrStdout()
		for i := 0; i < dumpCycles; i++ {
			o, err := b.Step(ctx)
			if err != nil {
				return err
			}
			if !o.Beat.Val && !dumpAll {
				continue
			}
			fmt.Fprintf(out, "cycle %d  %s  req=%t\n", i+1, o.Status.State, o.Req)
			fmt.Fprint(out, o.Beat.String())
		}
		printSummary(cmd, b.Snapshot())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpFlags.register(dumpCmd)
	dumpCmd.Flags().IntVar(&dumpCycles, "cycles", 32, "Clock edges to step")
	dumpCmd.Flags().BoolVar(&dumpAll, "all", false, "Also print idle beats")
}
