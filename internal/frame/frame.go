// Package frame holds fetched frames and the double buffer that feeds the streamer.
package frame

import (
	"context"

	"github.com/zsiec/fcbus/internal/bus"
)

// Source supplies frames synchronously. Next blocks until a whole frame is available;
// an error is fatal for the datapath and is never retried.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Next implements Source.
func (f SourceFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Frame is one fetched frame together with the cursor thresholds used to segment it.
// A Frame is immutable once built.
type Frame struct {
	seq      uint64
	data     []byte
	last     int
	prefetch int
}

// New builds a frame for a bus of class c. The bytes are copied.
func New(data []byte, c bus.Class) *Frame {
	return newFrame(0, data, c)
}

func newFrame(seq uint64, data []byte, c bus.Class) *Frame {
	w := c.Bytes()
	f := &Frame{
		seq:  seq,
		data: append([]byte(nil), data...),
	}
	if n := len(f.data); n > w {
		f.last = n - w
	}
	if n := len(f.data); n > 2*w {
		f.prefetch = n - 2*w
	}
	return f
}

// Seq returns the fetch sequence number, starting at 1 for the first fetched frame.
func (f *Frame) Seq() uint64 {
	return f.seq
}

// Bytes returns the frame contents. Callers must not modify the slice.
func (f *Frame) Bytes() []byte {
	return f.data
}

// Len returns the frame length in bytes.
func (f *Frame) Len() int {
	return len(f.data)
}

// BitCount returns the frame length in bits.
func (f *Frame) BitCount() uint64 {
	return uint64(len(f.data)) * 8
}

// LastOffset is the cursor at which the current beat is the last one of the frame.
func (f *Frame) LastOffset() int {
	return f.last
}

// PrefetchOffset is the cursor from which the next frame has to be requested.
func (f *Frame) PrefetchOffset() int {
	return f.prefetch
}
