package frame

import (
	"context"
	"fmt"
	"time"

	"github.com/zsiec/fcbus/internal/bus"
	"github.com/zsiec/fcbus/internal/errors"
	"github.com/zsiec/fcbus/internal/metrics"
)

// Named is implemented by sources that report a name for metrics and logs.
type Named interface {
	Name() string
}

// Buffer is the double buffer between a Source and the streamer: the current frame
// being segmented and the pending frame fetched ahead of it.
//
// Buffer is not safe for concurrent use; it belongs to a single streamer.
type Buffer struct {
	source  Source
	class   bus.Class
	name    string
	current *Frame
	pending *Frame
	fetched uint64
}

// NewBuffer creates an empty buffer reading from src for a bus of class c.
func NewBuffer(src Source, c bus.Class) *Buffer {
	name := "source"
	if n, ok := src.(Named); ok {
		name = n.Name()
	}
	return &Buffer{
		source: src,
		class:  c,
		name:   name,
	}
}

// Fetch pulls the next frame from the source into the pending slot.
func (b *Buffer) Fetch(ctx context.Context) (*Frame, error) {
	if b.pending != nil {
		return nil, errors.NewInvariantError("fetch with frame %d still pending", b.pending.seq)
	}

	start := time.Now()
	data, err := b.source.Next(ctx)
	if err != nil {
		metrics.IncrementSourceError(b.name)
		if errors.IsSourceError(err) {
			return nil, fmt.Errorf("fetch frame %d: %w", b.fetched+1, err)
		}
		return nil, errors.WrapSourceError(err, fmt.Sprintf("%s failed to supply frame %d", b.name, b.fetched+1))
	}

	b.fetched++
	b.pending = newFrame(b.fetched, data, b.class)
	metrics.ObserveFetch(b.class.String(), time.Since(start).Seconds(), b.pending.Len())

	return b.pending, nil
}

// Swap promotes the pending frame to current, dropping the old current frame.
func (b *Buffer) Swap() (*Frame, error) {
	if b.pending == nil {
		return nil, errors.NewInvariantError("swap with no pending frame")
	}
	b.current = b.pending
	b.pending = nil
	return b.current, nil
}

// Current returns the frame being segmented, or nil before the first swap.
func (b *Buffer) Current() *Frame {
	return b.current
}

// Pending returns the prefetched frame, or nil.
func (b *Buffer) Pending() *Frame {
	return b.pending
}

// Fetched returns the number of frames fetched so far.
func (b *Buffer) Fetched() uint64 {
	return b.fetched
}

// Release drops both frames.
func (b *Buffer) Release() {
	b.current = nil
	b.pending = nil
}
