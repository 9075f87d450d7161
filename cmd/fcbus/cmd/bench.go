package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zsiec/fcbus/internal/bus"
	"github.com/zsiec/fcbus/internal/config"
	"github.com/zsiec/fcbus/internal/harness"
	"github.com/zsiec/fcbus/internal/logger"
	"github.com/zsiec/fcbus/internal/source"
)

// busFlags are the bench overrides shared by run, dump, serve and watch.
type busFlags struct {
	width      int
	frames     uint64
	reqDelay   int
	gate       string
	paced      bool
	maxCycles  uint64
	sourceType string
	handler    string
}

func (f *busFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVarP(&f.width, "width", "w", 0, "Bus width in bytes (1, 2, 4, 8, 16, 32 or 64)")
	fl.Uint64VarP(&f.frames, "frames", "n", 0, "Frames to check; 0 runs until interrupted")
	fl.IntVar(&f.reqDelay, "req-delay", 0, "Edges between req and ack (0-3)")
	fl.StringVar(&f.gate, "gate", "", "Repeating data-available pattern, e.g. 1101")
	fl.BoolVar(&f.paced, "paced", false, "Pace stepping to the configured clock")
	fl.Uint64Var(&f.maxCycles, "max-cycles", 0, "Fail after this many edges; 0 is unlimited")
	fl.StringVar(&f.sourceType, "source", "", "Frame source: local, process, redis, rtp or srt")
	fl.StringVar(&f.handler, "handler", "", "Driver handler name")
}

// apply copies the flags the user set over cfg.
func (f *busFlags) apply(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		fl := cmd.Flags()
		if fl.Changed("width") {
			cfg.Bus.Width = f.width
		}
		if fl.Changed("frames") {
			cfg.Bus.Frames = f.frames
		}
		if fl.Changed("req-delay") {
			cfg.Bus.ReqDelay = f.reqDelay
		}
		if fl.Changed("gate") {
			cfg.Bus.Gate = f.gate
		}
		if fl.Changed("paced") {
			cfg.Bus.Paced = f.paced
		}
		if fl.Changed("max-cycles") {
			cfg.Bus.MaxCycles = f.maxCycles
		}
		if fl.Changed("source") {
			cfg.Source.Type = f.sourceType
		}
		if fl.Changed("handler") {
			cfg.Source.Handler = f.handler
		}
	}
}

// newBench opens the configured source and wires it into a bench. The returned
// source must be closed after the bench.
func newBench(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*harness.Bench, *source.Opened, error) {
	class, err := bus.ClassForBytes(cfg.Bus.Width)
	if err != nil {
		return nil, nil, err
	}
	gate, err := harness.ParseGate(cfg.Bus.Gate)
	if err != nil {
		return nil, nil, err
	}

	adapter := logger.NewLogrusAdapter(logrus.NewEntry(log))
	src, err := source.Open(ctx, cfg, adapter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s source: %w", cfg.Source.Type, err)
	}

	b := harness.New(src.Source, harness.Config{
		Class:      class,
		Frames:     cfg.Bus.Frames,
		ReqDelay:   cfg.Bus.ReqDelay,
		ClockHz:    cfg.Bus.ClockHz,
		Paced:      cfg.Bus.Paced,
		Gate:       gate,
		LengthRamp: cfg.Bus.LengthRamp,
		MaxCycles:  cfg.Bus.MaxCycles,
	}, adapter)
	return b, src, nil
}
