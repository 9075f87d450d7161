package harness

import (
	"encoding/hex"
	"fmt"

	"github.com/zsiec/fcbus/internal/bus"
	"github.com/zsiec/fcbus/internal/logger"
	"github.com/zsiec/fcbus/internal/metrics"
)

// Result is the verdict on one frame seen by the checker.
type Result struct {
	Frame    uint64 `json:"frame"` // 1-based count of checked frames
	Expected int    `json:"expected_len"`
	Observed int    `json:"observed_len"`
	Pass     bool   `json:"pass"`
	Position int    `json:"position"` // first mismatching byte, -1 if none
	Reason   string `json:"reason,omitempty"`
}

// Checker reassembles the beats of each frame and compares the result with the frames
// recorded from the source, in fetch order.
//
// Checker is not safe for concurrent use.
type Checker struct {
	class  bus.Class
	width  string
	logger *logger.SampledLogger

	expected [][]byte
	want     []byte
	observed []byte
	inFrame  bool
	ramp     int

	frames   uint64
	failures uint64
	last     *Result
}

// NewChecker creates a checker for a bus of class c.
func NewChecker(c bus.Class, log logger.Logger) *Checker {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Checker{
		class: c,
		width: c.String(),
		logger: logger.NewBusLogger(log.WithFields(map[string]interface{}{
			"component": "checker",
			"width":     c.String(),
		})),
	}
}

// SetLengthRamp additionally requires the first frame to be start bytes long and each
// later frame one byte longer, as produced by the growing-length generators. A start of
// 0 disables the ramp.
func (c *Checker) SetLengthRamp(start int) {
	c.ramp = start
}

// Expect records a frame the source supplied.
func (c *Checker) Expect(frame []byte) {
	c.expected = append(c.expected, append([]byte(nil), frame...))
}

// Outstanding returns the number of recorded frames not yet started on the bus.
func (c *Checker) Outstanding() int {
	return len(c.expected)
}

// Observe consumes the beat of an active cycle. It returns the verdict when the beat
// completes a frame or breaks framing, nil otherwise.
func (c *Checker) Observe(b bus.Beat) *Result {
	if !b.Val {
		return nil
	}

	var res *Result
	if b.SOF {
		if c.inFrame {
			res = c.complete(false, -1, "start of frame before end of previous frame")
		}
		if len(c.expected) == 0 {
			c.inFrame = false
			return c.complete(false, -1, "start of frame with no frame recorded from the source")
		}

		c.want = c.expected[0]
		c.expected = c.expected[1:]
		c.observed = c.observed[:0]
		c.inFrame = true

		if len(c.want) == 0 {
			// A zero-length frame is a lone sof/eof beat
			c.inFrame = false
			if !b.EOF {
				return c.complete(false, -1, "zero-length frame without end of frame")
			}
			return c.verdict()
		}
	} else if !c.inFrame {
		return c.complete(false, -1, "valid beat outside a frame")
	}

	c.observed = append(c.observed, b.Bytes()...)
	if !b.EOF {
		return res
	}
	c.inFrame = false
	return c.verdict()
}

// verdict compares the reassembled frame with the expected one.
func (c *Checker) verdict() *Result {
	if c.ramp > 0 {
		want := c.ramp
		c.ramp++
		if len(c.observed) != want {
			return c.complete(false, -1, fmt.Sprintf("frame length %d breaks the length ramp, want %d", len(c.observed), want))
		}
	}

	if len(c.observed) != len(c.want) {
		return c.complete(false, firstMismatch(c.want, c.observed),
			fmt.Sprintf("frame length %d, want %d", len(c.observed), len(c.want)))
	}
	if pos := firstMismatch(c.want, c.observed); pos >= 0 {
		return c.complete(false, pos,
			fmt.Sprintf("byte %d is %02X, want %02X", pos, c.observed[pos], c.want[pos]))
	}
	return c.complete(true, -1, "")
}

func (c *Checker) complete(pass bool, pos int, reason string) *Result {
	c.frames++
	res := &Result{
		Frame:    c.frames,
		Expected: len(c.want),
		Observed: len(c.observed),
		Pass:     pass,
		Position: pos,
		Reason:   reason,
	}
	c.last = res
	metrics.RecordCheck(c.width, pass)

	if pass {
		c.logger.InfoWithCategory(logger.CategoryCheck, "Frame OK", map[string]interface{}{
			"frame":  res.Frame,
			"length": res.Observed,
		})
		return res
	}

	c.failures++
	c.logger.ErrorWithCategory(logger.CategoryCheck, "Frame miscompare", map[string]interface{}{
		"frame":    res.Frame,
		"reason":   reason,
		"expected": hex.EncodeToString(c.want),
		"observed": hex.EncodeToString(c.observed),
	})
	return res
}

// firstMismatch returns the first position where a and b differ, or -1 when the
// shorter is a prefix of the longer.
func firstMismatch(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}

// Frames returns the number of frames checked.
func (c *Checker) Frames() uint64 {
	return c.frames
}

// Failures returns the number of frames that failed.
func (c *Checker) Failures() uint64 {
	return c.failures
}

// Pass reports whether every checked frame matched.
func (c *Checker) Pass() bool {
	return c.failures == 0
}

// Last returns the most recent verdict, nil before the first frame.
func (c *Checker) Last() *Result {
	return c.last
}
