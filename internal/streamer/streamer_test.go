package streamer

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/fcbus/internal/bus"
	"github.com/zsiec/fcbus/internal/errors"
	"github.com/zsiec/fcbus/internal/frame"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// run steps a streamer with the gate always open and the request line fed straight
// back as ack, collecting the valid beats of each frame until want frames completed.
func run(t *testing.T, c bus.Class, frames [][]byte) [][]Output {
	t.Helper()

	// One spare frame for the prefetch issued during the last frame
	src := frame.NewReplay(append(frames, []byte{0xEE})...)
	s := New(src, c, nil)
	defer s.Close()

	var (
		ctx    = context.Background()
		result [][]Output
		open   []Output
		ack    bool
	)
	for cycle := 0; len(result) < len(frames); cycle++ {
		require.Less(t, cycle, 10000, "streamer did not complete %d frames", len(frames))

		out, err := s.Step(ctx, Input{Gate: true, Ack: ack})
		require.NoError(t, err)
		ack = out.Req

		if !out.Beat.Val {
			require.Empty(t, open, "bubble inside a frame at cycle %d", cycle)
			continue
		}
		open = append(open, out)
		if out.Beat.EOF {
			result = append(result, open)
			open = nil
		}
	}
	return result
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "REQUESTING", StateRequesting.String())
	assert.Equal(t, "STREAMING", StateStreaming.String())
	assert.Equal(t, "DRAINING", StateDraining.String())
	assert.Equal(t, "State(7)", State(7).String())

	text, err := StateDraining.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "DRAINING", string(text))

	var st State
	require.NoError(t, st.UnmarshalText([]byte("STREAMING")))
	assert.Equal(t, StateStreaming, st)
	assert.Error(t, st.UnmarshalText([]byte("IDLE")))
}

func TestInitRequestsFirstFrame(t *testing.T) {
	s := New(frame.NewReplay(pattern(10, 1)), bus.Class32, nil)

	out, err := s.Step(context.Background(), Input{Gate: true})
	require.NoError(t, err)

	assert.Equal(t, StateRequesting, s.State())
	assert.True(t, out.Req)
	assert.False(t, out.Beat.Val)
	assert.Equal(t, bus.Reset(bus.Class32), out.Beat)
	assert.Equal(t, uint64(80), out.BitCount)
	assert.Equal(t, 10, out.Status.PendingLen)

	// Without ack the request stays up and no beat is driven
	for i := 0; i < 3; i++ {
		out, err = s.Step(context.Background(), Input{Gate: true})
		require.NoError(t, err)
		assert.True(t, out.Req)
		assert.False(t, out.Beat.Val)
		assert.Equal(t, StateRequesting, s.State())
	}
}

func TestScenarios(t *testing.T) {
	t.Run("byte lane, three bytes", func(t *testing.T) {
		frames := run(t, bus.Class8, [][]byte{{0xA1, 0xA2, 0xA3}})
		beats := frames[0]
		require.Len(t, beats, 3)

		for i, b := range beats {
			assert.Equal(t, i == 0, b.Beat.SOF, "beat %d sof", i+1)
			assert.Equal(t, i == 2, b.Beat.EOF, "beat %d eof", i+1)
			assert.Equal(t, bus.Mod(0), b.Beat.Mod)
		}
		assert.Equal(t, []byte{0xA2}, beats[1].Beat.Dat)

		// prefetch offset 1: first beat clears the request, second raises it
		assert.False(t, beats[0].Req)
		assert.True(t, beats[1].Req)
		assert.True(t, beats[2].Req)
		assert.Equal(t, StateStreaming, beats[0].Status.State)
		assert.Equal(t, StateDraining, beats[1].Status.State)
		assert.Equal(t, StateRequesting, beats[2].Status.State)
	})

	t.Run("four bytes wide, five byte frame", func(t *testing.T) {
		frames := run(t, bus.Class32, [][]byte{pattern(5, 1)})
		beats := frames[0]
		require.Len(t, beats, 2)

		assert.Equal(t, []byte{1, 2, 3, 4}, beats[0].Beat.Dat)
		assert.Equal(t, 4, beats[0].Beat.ByteCount())
		assert.True(t, beats[0].Req, "prefetch offset 0 requests on the first beat")

		assert.True(t, beats[1].Beat.EOF)
		assert.Equal(t, bus.Mod(1), beats[1].Beat.Mod)
		assert.Equal(t, []byte{5, 0, 0, 0}, beats[1].Beat.Dat)
	})

	t.Run("frame shorter than the bus", func(t *testing.T) {
		frames := run(t, bus.Class32, [][]byte{{0xC1, 0xC2}})
		beats := frames[0]
		require.Len(t, beats, 1)

		b := beats[0]
		assert.True(t, b.Beat.SOF)
		assert.True(t, b.Beat.EOF)
		assert.Equal(t, bus.Mod(2), b.Beat.Mod)
		assert.Equal(t, []byte{0xC1, 0xC2, 0, 0}, b.Beat.Dat)
		assert.True(t, b.Req, "next frame is requested on the same beat")
	})

	t.Run("eight bytes wide, twenty byte frame", func(t *testing.T) {
		frames := run(t, bus.Class64, [][]byte{pattern(20, 0)})
		beats := frames[0]
		require.Len(t, beats, 3)

		assert.Equal(t, 0, beats[0].Status.Cursor)
		assert.Equal(t, 8, beats[1].Status.Cursor)
		assert.Equal(t, 16, beats[2].Status.Cursor)

		assert.False(t, beats[0].Req)
		assert.Equal(t, StateStreaming, beats[0].Status.State)
		assert.True(t, beats[1].Req)
		assert.Equal(t, StateDraining, beats[1].Status.State)
		assert.True(t, beats[2].Req)

		assert.Equal(t, 8, beats[0].Beat.ByteCount())
		assert.Equal(t, 8, beats[1].Beat.ByteCount())
		assert.Equal(t, bus.Mod(4), beats[2].Beat.Mod)
		assert.Equal(t, []byte{16, 17, 18, 19, 0, 0, 0, 0}, beats[2].Beat.Dat)
	})

	t.Run("empty frame", func(t *testing.T) {
		frames := run(t, bus.Class32, [][]byte{{}, {0x01}})
		beats := frames[0]
		require.Len(t, beats, 1)

		b := beats[0].Beat
		assert.True(t, b.SOF)
		assert.True(t, b.EOF)
		assert.True(t, b.Val)
		assert.Equal(t, bus.Mod(0), b.Mod)
		assert.Equal(t, make([]byte, 4), b.Dat)
		assert.Equal(t, 0, beats[0].Status.CurrentLen)

		// The following frame is unaffected
		require.Len(t, frames[1], 1)
		assert.Equal(t, []byte{0x01}, frames[1][0].Beat.Bytes())
	})
}

func TestSegmentationAcrossWidths(t *testing.T) {
	for c := bus.Class8; c < bus.NumClasses; c++ {
		c := c
		t.Run(c.String(), func(t *testing.T) {
			w := c.Bytes()

			var frames [][]byte
			for n := 0; n <= 3*w+3; n++ {
				frames = append(frames, pattern(n, byte(n)))
			}
			got := run(t, c, frames)

			for i, beats := range got {
				want := frames[i]
				n := len(want)

				wantBeats := (n + w - 1) / w
				if n == 0 {
					wantBeats = 1
				}
				require.Len(t, beats, wantBeats, "frame length %d", n)

				var sofs, eofs int
				var data []byte
				for _, b := range beats {
					if b.Beat.SOF {
						sofs++
					}
					if b.Beat.EOF {
						eofs++
					}
					assert.Len(t, b.Beat.Dat, w)
					data = append(data, b.Beat.Bytes()...)
				}
				assert.Equal(t, 1, sofs, "frame length %d", n)
				assert.Equal(t, 1, eofs, "frame length %d", n)
				assert.True(t, beats[0].Beat.SOF)
				assert.True(t, beats[len(beats)-1].Beat.EOF)

				if n > 0 {
					assert.Equal(t, want, data, "reassembly of frame length %d", n)
				}

				// Interior beats are always full
				for _, b := range beats[:len(beats)-1] {
					assert.Equal(t, w, b.Beat.ByteCount())
				}

				// Request rises on the first beat at or past the prefetch offset and
				// stays up until the frame ends
				prefetch := n - 2*w
				if prefetch < 0 {
					prefetch = 0
				}
				first := (prefetch + w - 1) / w
				require.Less(t, first, len(beats))
				for j := range beats {
					assert.Equal(t, j >= first, beats[j].Req, "frame length %d beat %d", n, j+1)
				}

				// Cursor strictly increases within the frame
				for j := 1; j < len(beats); j++ {
					assert.Greater(t, beats[j].Status.Cursor, beats[j-1].Status.Cursor)
				}
			}
		})
	}
}

func TestGateHoldsOutputs(t *testing.T) {
	ctx := context.Background()
	s := New(frame.NewReplay(pattern(40, 0), pattern(3, 0)), bus.Class64, nil)

	_, err := s.Step(ctx, Input{Gate: true})
	require.NoError(t, err)
	first, err := s.Step(ctx, Input{Gate: true, Ack: true})
	require.NoError(t, err)
	require.True(t, first.Beat.SOF)

	for i := 0; i < 5; i++ {
		held, err := s.Step(ctx, Input{Gate: false, Ack: true})
		require.NoError(t, err)
		assert.Equal(t, first, held, "closed gate must hold every output")
	}

	next, err := s.Step(ctx, Input{Gate: true})
	require.NoError(t, err)
	assert.False(t, next.Beat.SOF, "sof clears on the next active cycle")
	assert.Equal(t, 8, next.Status.Cursor)
}

func TestOutputDoesNotAliasBeat(t *testing.T) {
	ctx := context.Background()
	s := New(frame.NewReplay(pattern(8, 1), pattern(8, 9)), bus.Class32, nil)

	_, err := s.Step(ctx, Input{Gate: true})
	require.NoError(t, err)
	out, err := s.Step(ctx, Input{Gate: true, Ack: true})
	require.NoError(t, err)

	out.Beat.Dat[0] = 0xFF
	held, err := s.Step(ctx, Input{Gate: false})
	require.NoError(t, err)
	assert.Equal(t, byte(1), held.Beat.Dat[0])
}

func TestBitCountFollowsLatestFetch(t *testing.T) {
	ctx := context.Background()
	s := New(frame.NewReplay(pattern(3, 0), pattern(7, 0)), bus.Class32, nil)

	out, err := s.Step(ctx, Input{Gate: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(24), out.BitCount)

	// First beat of a 3 byte frame prefetches the 7 byte frame
	out, err = s.Step(ctx, Input{Gate: true, Ack: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(56), out.BitCount)
	assert.Equal(t, 3, out.Status.CurrentLen)
	assert.Equal(t, 7, out.Status.PendingLen)
}

func TestSourceFailureIsSticky(t *testing.T) {
	ctx := context.Background()
	cause := stderrors.New("driver went away")
	calls := 0
	src := frame.SourceFunc(func(context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return pattern(4, 0), nil
		}
		return nil, cause
	})
	s := New(src, bus.Class32, nil)

	_, err := s.Step(ctx, Input{Gate: true})
	require.NoError(t, err)

	// The only beat of a 4 byte frame prefetches and hits the failure
	_, err = s.Step(ctx, Input{Gate: true, Ack: true})
	require.Error(t, err)
	assert.True(t, errors.IsSourceError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, err, s.Err())

	for i := 0; i < 3; i++ {
		_, again := s.Step(ctx, Input{Gate: true, Ack: true})
		assert.Equal(t, err, again)
	}
	assert.Equal(t, 2, calls, "a failed source is never retried")
}

func TestInvariantFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown state", func(t *testing.T) {
		s := New(frame.NewReplay(pattern(4, 0)), bus.Class32, nil)
		s.state = State(42)

		_, err := s.Step(ctx, Input{Gate: true})
		require.Error(t, err)
		assert.True(t, errors.IsInvariantError(err))

		_, again := s.Step(ctx, Input{Gate: true})
		assert.Equal(t, err, again)
	})

	t.Run("closed gate does not hide a failure", func(t *testing.T) {
		s := New(frame.NewReplay(pattern(4, 0)), bus.Class32, nil)
		s.state = State(42)
		_, err := s.Step(ctx, Input{Gate: true})
		require.Error(t, err)

		_, again := s.Step(ctx, Input{Gate: false})
		assert.Equal(t, err, again)
	})

	t.Run("step after close", func(t *testing.T) {
		s := New(frame.NewReplay(pattern(4, 0)), bus.Class32, nil)
		_, err := s.Step(ctx, Input{Gate: true})
		require.NoError(t, err)

		s.Close()
		assert.Equal(t, -1, s.Status().PendingLen)

		_, err = s.Step(ctx, Input{Gate: true, Ack: true})
		require.Error(t, err)
		assert.True(t, errors.IsInvariantError(err))
	})
}
