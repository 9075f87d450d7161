// Package streamer segments frames into fixed-width beats, one beat per active clock edge.
package streamer

import (
	"context"
	"fmt"

	"github.com/zsiec/fcbus/internal/bus"
	"github.com/zsiec/fcbus/internal/errors"
	"github.com/zsiec/fcbus/internal/frame"
	"github.com/zsiec/fcbus/internal/logger"
	"github.com/zsiec/fcbus/internal/metrics"
)

// State is the streamer FSM state
type State int

const (
	StateInit       State = iota // Nothing fetched yet
	StateRequesting              // Waiting for the ack that lets the pending frame start
	StateStreaming               // Advancing below the prefetch threshold
	StateDraining                // Advancing with the next frame already requested
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRequesting:
		return "REQUESTING"
	case StateStreaming:
		return "STREAMING"
	case StateDraining:
		return "DRAINING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateInit; st <= StateDraining; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown streamer state %q", text)
}

// Input holds the signals sampled at a clock edge.
type Input struct {
	// Gate is the data-available signal. A cycle with Gate low is inactive.
	Gate bool
	// Ack acknowledges the request line and lets the pending frame start.
	Ack bool
}

// Status is a snapshot of the streamer's internal registers.
type Status struct {
	State      State  `json:"state"`
	Cursor     int    `json:"cursor"`
	CurrentSeq uint64 `json:"current_seq"`
	CurrentLen int    `json:"current_len"`
	PendingLen int    `json:"pending_len"` // -1 when nothing is pending
	Fetched    uint64 `json:"fetched"`
}

// Output holds the signals driven after a clock edge.
type Output struct {
	Beat     bus.Beat `json:"beat"`
	BitCount uint64   `json:"bit_count"` // 8 x length of the most recently fetched frame
	Req      bool     `json:"req"`
	Status   Status   `json:"status"`
}

// Streamer is the frame-to-beat FSM. It owns a frame.Buffer and drives one beat per
// active cycle. Errors are fatal: once Step fails every later Step returns the same error.
//
// A Streamer is not safe for concurrent use.
type Streamer struct {
	codec  bus.Codec
	class  bus.Class
	width  string
	buffer *frame.Buffer
	logger *logger.SampledLogger

	state    State
	cursor   int
	req      bool
	beat     bus.Beat
	bitCount uint64
	closed   bool
	err      error
}

// New creates a streamer for a bus of class c fed by src.
func New(src frame.Source, c bus.Class, log logger.Logger) *Streamer {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Streamer{
		codec:  bus.NewCodec(c),
		class:  c,
		width:  c.String(),
		buffer: frame.NewBuffer(src, c),
		logger: logger.NewBusLogger(log.WithFields(map[string]interface{}{
			"component": "streamer",
			"width":     c.String(),
		})),
		state: StateInit,
		beat:  bus.Reset(c),
	}
}

// Class returns the bus width class.
func (s *Streamer) Class() bus.Class {
	return s.class
}

// State returns the current FSM state.
func (s *Streamer) State() State {
	return s.state
}

// Err returns the fatal error that stopped the streamer, if any.
func (s *Streamer) Err() error {
	return s.err
}

// Step advances the streamer by one clock edge.
func (s *Streamer) Step(ctx context.Context, in Input) (Output, error) {
	if s.err != nil {
		return s.output(), s.err
	}
	if s.closed {
		return s.output(), s.fail(errors.NewInvariantError("step on closed streamer"))
	}

	metrics.RecordCycle(s.width, in.Gate)
	if !in.Gate {
		return s.output(), nil
	}

	s.beat.SOF = false
	s.beat.EOF = false

	var err error
	switch s.state {
	case StateInit:
		err = s.init(ctx)
	case StateRequesting:
		if in.Ack {
			err = s.start(ctx)
		} else {
			s.req = true
			s.beat.Val = false
		}
	case StateStreaming:
		if err = s.advance(); err == nil {
			err = s.prefetch(ctx)
		}
		if err == nil {
			s.classify()
		}
	case StateDraining:
		if err = s.advance(); err == nil {
			s.classify()
		}
	default:
		err = errors.NewInvariantError("unknown streamer state %d", int(s.state))
	}
	if err != nil {
		return s.output(), s.fail(err)
	}

	if s.beat.Val {
		metrics.RecordBeat(s.width, s.beat.EOF)
		s.logger.DebugWithCategory(logger.CategoryBeat, "Beat driven", map[string]interface{}{
			"frame":  s.buffer.Current().Seq(),
			"cursor": s.cursor,
			"sof":    s.beat.SOF,
			"eof":    s.beat.EOF,
			"mod":    s.beat.Mod,
			"state":  s.state.String(),
		})
	}
	metrics.SetStreamerState(s.width, int(s.state), s.req)

	return s.output(), nil
}

// init fetches the first frame and raises the request line.
func (s *Streamer) init(ctx context.Context) error {
	if err := s.fetch(ctx); err != nil {
		return err
	}
	s.req = true
	s.beat = bus.Reset(s.class)
	s.state = StateRequesting
	return nil
}

// start swaps the pending frame in and drives its first beat.
func (s *Streamer) start(ctx context.Context) error {
	cur, err := s.buffer.Swap()
	if err != nil {
		return err
	}
	s.logger.DebugWithCategory(logger.CategorySwap, "Frame started", map[string]interface{}{
		"frame":  cur.Seq(),
		"length": cur.Len(),
	})

	s.cursor = 0
	s.drive(cur)
	s.beat.SOF = true

	if err := s.prefetch(ctx); err != nil {
		return err
	}
	s.classify()
	return nil
}

// advance moves the cursor one beat forward, saturating at the frame length.
func (s *Streamer) advance() error {
	cur := s.buffer.Current()
	if cur == nil {
		return errors.NewInvariantError("%s with no current frame", s.state)
	}

	s.cursor += s.class.Bytes()
	if s.cursor > cur.Len() {
		s.cursor = cur.Len()
	}
	s.drive(cur)
	return nil
}

// drive loads data and mod for the beat at the cursor.
func (s *Streamer) drive(cur *frame.Frame) {
	remaining := cur.Len() - s.cursor
	if w := s.class.Bytes(); remaining > w {
		remaining = w
	}
	s.beat.Dat = s.codec.Pack(cur.Bytes(), s.cursor)
	s.beat.Mod = s.codec.EncodeMod(remaining)
}

// prefetch requests the next frame once the cursor crosses the prefetch threshold.
func (s *Streamer) prefetch(ctx context.Context) error {
	if s.cursor >= s.buffer.Current().PrefetchOffset() {
		if err := s.fetch(ctx); err != nil {
			return err
		}
		s.req = true
	} else {
		s.req = false
	}
	return nil
}

// classify marks the driven beat valid and picks the next state.
func (s *Streamer) classify() {
	cur := s.buffer.Current()
	s.beat.Val = true

	switch {
	case s.cursor >= cur.LastOffset():
		s.beat.EOF = true
		s.state = StateRequesting
	case s.cursor >= cur.PrefetchOffset():
		s.state = StateDraining
	default:
		s.state = StateStreaming
	}
}

func (s *Streamer) fetch(ctx context.Context) error {
	f, err := s.buffer.Fetch(ctx)
	if err != nil {
		return err
	}
	s.bitCount = f.BitCount()
	s.logger.DebugWithCategory(logger.CategoryFetch, "Frame fetched", map[string]interface{}{
		"frame":  f.Seq(),
		"length": f.Len(),
	})
	return nil
}

func (s *Streamer) fail(err error) error {
	s.err = fmt.Errorf("streamer %s: %w", s.state, err)
	s.logger.WithError(err).WithField("cursor", s.cursor).Error("Streamer stopped")
	return s.err
}

// Status returns a snapshot of the streamer registers.
func (s *Streamer) Status() Status {
	st := Status{
		State:      s.state,
		Cursor:     s.cursor,
		PendingLen: -1,
		Fetched:    s.buffer.Fetched(),
	}
	if cur := s.buffer.Current(); cur != nil {
		st.CurrentSeq = cur.Seq()
		st.CurrentLen = cur.Len()
	}
	if p := s.buffer.Pending(); p != nil {
		st.PendingLen = p.Len()
	}
	return st
}

func (s *Streamer) output() Output {
	return Output{
		Beat:     s.beat.Clone(),
		BitCount: s.bitCount,
		Req:      s.req,
		Status:   s.Status(),
	}
}

// Close releases both frame slots. Stepping a closed streamer is an invariant error.
func (s *Streamer) Close() {
	s.buffer.Release()
	s.closed = true
	s.logger.WithFields(map[string]interface{}{
		"fetched":           s.buffer.Fetched(),
		"beat_logs_dropped": s.logger.Dropped(logger.CategoryBeat),
	}).Debug("Streamer closed")
}
