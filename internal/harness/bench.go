package harness

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/fcbus/internal/bus"
	"github.com/zsiec/fcbus/internal/errors"
	"github.com/zsiec/fcbus/internal/frame"
	"github.com/zsiec/fcbus/internal/logger"
	"github.com/zsiec/fcbus/internal/metrics"
	"github.com/zsiec/fcbus/internal/streamer"
)

// ErrRunning is returned by Step while Run owns the bench.
var ErrRunning = stderrors.New("bench is running")

// historySize is the number of recent valid beats kept for monitors.
const historySize = 32

// Config configures a Bench.
type Config struct {
	Class      bus.Class
	Frames     uint64 // frames to check before Run returns; 0 runs until ctx ends
	ReqDelay   int
	ClockHz    float64
	Paced      bool
	Gate       GateFunc
	LengthRamp int    // see Checker.SetLengthRamp
	MaxCycles  uint64 // Run fails after this many edges; 0 is unlimited
	RunID      string // generated when empty
}

// Snapshot is a consistent copy of the bench counters.
type Snapshot struct {
	RunID        string          `json:"run_id"`
	Width        string          `json:"width"`
	ReqDelay     int             `json:"req_delay"`
	Running      bool            `json:"running"`
	Done         bool            `json:"done"`
	Cycles       uint64          `json:"cycles"`
	ActiveCycles uint64          `json:"active_cycles"`
	Beats        uint64          `json:"beats"`
	IdleCycles   uint64          `json:"idle_cycles"`
	Frames       uint64          `json:"frames"`
	Failures     uint64          `json:"failures"`
	Pass         bool            `json:"pass"`
	Req          bool            `json:"req"`
	Ack          bool            `json:"ack"`
	BitCount     uint64          `json:"bit_count"`
	Streamer     streamer.Status `json:"streamer"`
	LastBeat     bus.Beat        `json:"last_beat"`
	LastResult   *Result         `json:"last_result,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
}

// Bench wires a recorded source through a streamer, an ack line and a checker, and
// steps them on a clock. Run and Step are driven from one goroutine at a time;
// Snapshot and History may be called from anywhere.
type Bench struct {
	cfg      Config
	streamer *streamer.Streamer
	ack      *AckLine
	clock    *Clock
	checker  *Checker
	logger   logger.Logger

	stepMu  sync.Mutex
	running atomic.Bool
	started bool

	mu      sync.RWMutex
	snap    Snapshot
	history []bus.Beat

	cursorGauge  *metrics.Gauge
	pendingGauge *metrics.Gauge
	failCounter  *metrics.Counter
}

// New creates a bench reading frames from src.
func New(src frame.Source, cfg Config, log logger.Logger) *Bench {
	if log == nil {
		log = logger.NewNullLogger()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	if cfg.ClockHz == 0 {
		cfg.ClockHz = DefaultClockHz
	}

	width := cfg.Class.String()
	log = log.WithFields(map[string]interface{}{
		"run_id": cfg.RunID,
		"width":  width,
	})

	checker := NewChecker(cfg.Class, log)
	checker.SetLengthRamp(cfg.LengthRamp)

	ack := NewAckLine(cfg.ReqDelay)
	labels := map[string]string{"run_id": cfg.RunID, "width": width}

	b := &Bench{
		cfg:      cfg,
		streamer: streamer.New(&recordingSource{src: src, checker: checker}, cfg.Class, log),
		ack:      ack,
		clock:    NewClock(cfg.ClockHz, cfg.Paced, cfg.Gate),
		checker:  checker,
		logger:   log.WithField("component", "bench"),
		snap: Snapshot{
			RunID:     cfg.RunID,
			Width:     width,
			ReqDelay:  ack.Delay(),
			Pass:      true,
			LastBeat:  bus.Reset(cfg.Class),
			StartedAt: time.Now(),
		},
		cursorGauge:  metrics.NewGauge("fcbus_run_cursor_bytes", "Cursor of the current frame", labels),
		pendingGauge: metrics.NewGauge("fcbus_run_pending_bytes", "Length of the prefetched frame, -1 when none", labels),
		failCounter:  metrics.NewCounter("fcbus_run_check_failures_total", "Frames that failed the check in this run", labels),
	}
	b.snap.Streamer = b.streamer.Status()

	b.logger.WithFields(map[string]interface{}{
		"datapath_bits": cfg.Class.Bits(),
		"req_delay":     ack.Delay(),
		"frames":        cfg.Frames,
	}).Info("Bench created")
	return b
}

// Config returns the bench configuration.
func (b *Bench) Config() Config {
	return b.cfg
}

// Running reports whether Run is in progress.
func (b *Bench) Running() bool {
	return b.running.Load()
}

// Step advances the bench by one clock edge. It fails with ErrRunning while Run is in
// progress.
func (b *Bench) Step(ctx context.Context) (streamer.Output, error) {
	if b.running.Load() {
		return streamer.Output{}, ErrRunning
	}
	b.stepMu.Lock()
	defer b.stepMu.Unlock()
	return b.step(ctx)
}

// StepN advances up to n edges, stopping early on error.
func (b *Bench) StepN(ctx context.Context, n int) (streamer.Output, error) {
	if b.running.Load() {
		return streamer.Output{}, ErrRunning
	}
	b.stepMu.Lock()
	defer b.stepMu.Unlock()

	var out streamer.Output
	var err error
	for i := 0; i < n; i++ {
		if out, err = b.step(ctx); err != nil {
			break
		}
	}
	return out, err
}

func (b *Bench) step(ctx context.Context) (streamer.Output, error) {
	edge := b.clock.Tick()
	ack := b.ack.Ack()

	out, err := b.streamer.Step(ctx, streamer.Input{Gate: edge.Gate, Ack: ack})
	b.ack.Clock(out.Req)

	var res *Result
	idle := false
	if err == nil && edge.Gate {
		if out.Beat.Val {
			b.started = true
			res = b.checker.Observe(out.Beat)
		} else if b.started {
			idle = true
			metrics.IncrementIdleCycles(b.snap.Width)
		}
	}

	b.cursorGauge.Set(float64(out.Status.Cursor))
	b.pendingGauge.Set(float64(out.Status.PendingLen))
	if res != nil && !res.Pass {
		b.failCounter.Inc()
	}

	b.mu.Lock()
	b.snap.Cycles = b.clock.Cycles()
	if edge.Gate {
		b.snap.ActiveCycles++
	}
	if err == nil && edge.Gate && out.Beat.Val {
		b.snap.Beats++
		b.history = append(b.history, out.Beat)
		if len(b.history) > historySize {
			b.history = b.history[len(b.history)-historySize:]
		}
	}
	if idle {
		b.snap.IdleCycles++
	}
	b.snap.Req = out.Req
	b.snap.Ack = ack
	b.snap.BitCount = out.BitCount
	b.snap.Streamer = out.Status
	b.snap.LastBeat = out.Beat
	b.snap.Frames = b.checker.Frames()
	b.snap.Failures = b.checker.Failures()
	b.snap.Pass = b.checker.Pass()
	b.snap.LastResult = b.checker.Last()
	if b.cfg.Frames > 0 && b.snap.Frames >= b.cfg.Frames {
		b.snap.Done = true
	}
	if err != nil {
		b.snap.Error = err.Error()
	}
	b.mu.Unlock()

	return out, err
}

// Run steps the bench until the configured number of frames has been checked, ctx
// ends, MaxCycles is exceeded, or the streamer fails.
func (b *Bench) Run(ctx context.Context) (Snapshot, error) {
	b.stepMu.Lock()
	defer b.stepMu.Unlock()

	b.running.Store(true)
	b.setRunning(true)
	defer func() {
		b.running.Store(false)
		b.setRunning(false)
	}()

	b.logger.Info("Bench running")
	for {
		if b.cfg.Frames > 0 && b.checker.Frames() >= b.cfg.Frames {
			snap := b.Snapshot()
			b.logger.WithFields(map[string]interface{}{
				"frames":      snap.Frames,
				"failures":    snap.Failures,
				"cycles":      snap.Cycles,
				"idle_cycles": snap.IdleCycles,
			}).Info("Frame count met; stopping")
			return snap, nil
		}
		if b.cfg.MaxCycles > 0 && b.clock.Cycles() >= b.cfg.MaxCycles {
			err := errors.NewTimeoutError(fmt.Sprintf("timeout after %d cycles with %d of %d frames checked",
				b.cfg.MaxCycles, b.checker.Frames(), b.cfg.Frames))
			b.logger.WithError(err).Error("Bench timed out")
			return b.Snapshot(), err
		}
		if err := b.clock.Wait(ctx); err != nil {
			return b.Snapshot(), err
		}
		if _, err := b.step(ctx); err != nil {
			return b.Snapshot(), err
		}
	}
}

func (b *Bench) setRunning(v bool) {
	b.mu.Lock()
	b.snap.Running = v
	b.mu.Unlock()
}

// Snapshot returns a copy of the bench counters.
func (b *Bench) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := b.snap
	snap.LastBeat = b.snap.LastBeat.Clone()
	if b.snap.LastResult != nil {
		r := *b.snap.LastResult
		snap.LastResult = &r
	}
	return snap
}

// History returns the most recent valid beats, oldest first.
func (b *Bench) History() []bus.Beat {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]bus.Beat, len(b.history))
	for i, beat := range b.history {
		out[i] = beat.Clone()
	}
	return out
}

// Close releases the streamer's frames and the run's metrics.
func (b *Bench) Close() {
	b.stepMu.Lock()
	defer b.stepMu.Unlock()

	b.streamer.Close()
	b.cursorGauge.Unregister()
	b.pendingGauge.Unregister()
	b.failCounter.Unregister()
}

// recordingSource hands every frame to the checker before the streamer sees it.
type recordingSource struct {
	src     frame.Source
	checker *Checker
}

func (r *recordingSource) Next(ctx context.Context) ([]byte, error) {
	data, err := r.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	r.checker.Expect(data)
	return data, nil
}

func (r *recordingSource) Name() string {
	if n, ok := r.src.(frame.Named); ok {
		return n.Name()
	}
	return "source"
}
