package source

import (
	"context"
	"encoding/binary"
	"sync"
)

// Built-in handler names.
const (
	HandlerDot3IncrLen = "dot3_incr_len"
	HandlerIncrLen     = "incr_len"
)

const (
	dot3MinPayload   = 50
	dot3MaxPayload   = 1500
	dot3WrapPayload  = 64
	dot3HeaderLength = 14
)

var (
	dot3Dst = [6]byte{0xCA, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB}
	dot3Src = [6]byte{0x5A, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
)

// Dot3IncrLen generates IEEE 802.3 frames with a growing payload. The payload size
// starts at 50 bytes and grows by one per frame; after a 1500 byte payload it wraps to 64.
type Dot3IncrLen struct {
	mu   sync.Mutex
	size int
}

// NewDot3IncrLen creates the generator at its initial payload size.
func NewDot3IncrLen() *Dot3IncrLen {
	return &Dot3IncrLen{size: dot3MinPayload}
}

// Frame returns the next frame.
func (g *Dot3IncrLen) Frame() []byte {
	g.mu.Lock()
	size := g.size
	if g.size >= dot3MaxPayload {
		g.size = dot3WrapPayload
	} else {
		g.size++
	}
	g.mu.Unlock()

	frame := make([]byte, dot3HeaderLength+size)
	copy(frame[0:6], dot3Dst[:])
	copy(frame[6:12], dot3Src[:])
	binary.BigEndian.PutUint16(frame[12:14], uint16(size))
	for i := 0; i < size; i++ {
		frame[dot3HeaderLength+i] = byte(i % 256)
	}
	return frame
}

// Handle implements HandlerFunc. The request payload is ignored.
func (g *Dot3IncrLen) Handle(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return EncodeResponse(g.Frame()), nil
}

// IncrLen generates raw frames of length start, start+1, ... with byte i equal to i%256.
type IncrLen struct {
	mu   sync.Mutex
	next int
}

// NewIncrLen creates a generator whose first frame is start bytes long.
func NewIncrLen(start int) *IncrLen {
	if start < 0 {
		start = 0
	}
	return &IncrLen{next: start}
}

// Frame returns the next frame.
func (g *IncrLen) Frame() []byte {
	g.mu.Lock()
	n := g.next
	g.next++
	g.mu.Unlock()

	frame := make([]byte, n)
	for i := range frame {
		frame[i] = byte(i % 256)
	}
	return frame
}

// Handle implements HandlerFunc. The request payload is ignored.
func (g *IncrLen) Handle(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return EncodeResponse(g.Frame()), nil
}
