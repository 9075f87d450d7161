package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zsiec/fcbus/internal/source"
)

var driverList bool

// driverCmd serves the built-in generators over the driver line protocol.
var driverCmd = &cobra.Command{
	Use:   "driver",
	Short: "Serve the built-in frame generators on stdin/stdout",
	Long: `Answer driver protocol requests, one JSON line in and one response line out, with
the built-in generators. Point a process source at this command to run the bench
against an out-of-process driver:

  source:
    type: process
    handler: dot3_incr_len
    process:
      path: fcbus
      args: [driver]`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := source.NewDefaultLocalClient()
		if driverList {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(client.Handlers(), "\n"))
			return nil
		}
		return source.ServeDriver(cmd.Context(), os.Stdin, cmd.OutOrStdout(), client)
	},
}

// generateFrames draws count frames from the built-in generator named handler.
func generateFrames(ctx context.Context, handler string, count int) ([][]byte, error) {
	client := source.NewDefaultLocalClient()
	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		resp, err := client.Request(ctx, handler, "")
		if err != nil {
			return nil, err
		}
		f, err := source.DecodeResponse(resp)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func init() {
	rootCmd.AddCommand(driverCmd)
	driverCmd.Flags().BoolVar(&driverList, "list", false, "List the handler names and exit")
}
