package cmd

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/fcbus/internal/source"
)

var (
	sendCount    int
	sendHandler  string
	sendInterval time.Duration
	sendMTU      int
)

// sendCmd feeds a remote rtp or srt source.
var sendCmd = &cobra.Command{
	Use:   "send <rtp|srt>",
	Short: "Send generated frames to an rtp or srt source",
	Long: `Generate frames with a built-in generator and send them to the address configured
for the rtp or srt source. RTP streams end with an RTCP BYE.

Examples:
  fcbus send rtp --count 50
  fcbus send srt --config configs/default.yaml`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"rtp", "srt"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd, nil)
		if err != nil {
			return err
		}
		handler := cfg.Source.Handler
		if sendHandler != "" {
			handler = sendHandler
		}
		frames, err := generateFrames(cmd.Context(), handler, sendCount)
		if err != nil {
			return err
		}

		var write func([]byte) error
		switch args[0] {
		case "rtp":
			rc := cfg.Source.RTP
			conn, err := net.Dial("udp", rc.ListenAddr)
			if err != nil {
				return fmt.Errorf("failed to dial %s: %w", rc.ListenAddr, err)
			}
			defer conn.Close()

			sender := source.NewRTPSender(conn, rand.Uint32(), rc.PayloadType, sendMTU)
			write = sender.Send
			if rc.RTCPAddr != "" {
				ctrl, err := net.Dial("udp", rc.RTCPAddr)
				if err != nil {
					return fmt.Errorf("failed to dial %s: %w", rc.RTCPAddr, err)
				}
				defer func() {
					if err := sender.Bye(ctrl, "done"); err != nil {
						log.WithError(err).Warn("Failed to send BYE")
					}
					ctrl.Close()
				}()
			}

		case "srt":
			sc := cfg.Source.SRT
			w, closer, err := source.DialSRTWriter(sc.Addr, source.SRTOptions{StreamID: sc.StreamID, Passphrase: sc.Passphrase})
			if err != nil {
				return err
			}
			defer closer.Close()
			write = w.WriteFrame

		default:
			return fmt.Errorf("unknown transport %q", args[0])
		}

		for i, f := range frames {
			if err := write(f); err != nil {
				return fmt.Errorf("frame %d: %w", i+1, err)
			}
			if sendInterval > 0 {
				time.Sleep(sendInterval)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %d frames over %s\n", len(frames), args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	fl := sendCmd.Flags()
	fl.IntVar(&sendCount, "count", 100, "Frames to send")
	fl.StringVar(&sendHandler, "handler", "", "Generator to draw frames from (defaults to source.handler)")
	fl.DurationVar(&sendInterval, "interval", time.Millisecond, "Pause between frames")
	fl.IntVar(&sendMTU, "mtu", 1200, "Largest RTP payload")
}
