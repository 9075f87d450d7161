// Package harness drives a streamer the way a testbench does: a clock with a
// data-available gate, the request line fed back as ack through a delay, and a checker
// that reassembles beats into frames and compares them with what the source supplied.
package harness

// MaxReqDelay is the longest ack delay the delay line supports.
const MaxReqDelay = 3

// AckLine feeds the streamer's request line back as its ack input. With delay 0 the
// ack is the request driven on the previous edge; with delay d it passes through d more
// registers first. Delays above MaxReqDelay are clamped.
type AckLine struct {
	delay int
	taps  [MaxReqDelay + 1]bool
}

// NewAckLine creates an ack line with the given delay in clock edges.
func NewAckLine(delay int) *AckLine {
	if delay < 0 {
		delay = 0
	}
	if delay > MaxReqDelay {
		delay = MaxReqDelay
	}
	return &AckLine{delay: delay}
}

// Delay returns the effective delay.
func (a *AckLine) Delay() int {
	return a.delay
}

// Ack returns the ack presented at the coming edge.
func (a *AckLine) Ack() bool {
	return a.taps[a.delay]
}

// Clock shifts in the request line driven at the edge just taken.
func (a *AckLine) Clock(req bool) {
	copy(a.taps[1:], a.taps[:MaxReqDelay])
	a.taps[0] = req
}
