package frame

import (
	"context"
	"fmt"
)

// Replay is a Source that returns a fixed list of frames in order and fails once
// they are exhausted.
type Replay struct {
	frames [][]byte
	next   int
}

// NewReplay returns a Source that replays frames.
func NewReplay(frames ...[]byte) *Replay {
	return &Replay{frames: frames}
}

// Next implements Source.
func (r *Replay) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.next >= len(r.frames) {
		return nil, fmt.Errorf("replay exhausted after %d frames", len(r.frames))
	}
	f := r.frames[r.next]
	r.next++
	return f, nil
}

// Name implements Named.
func (r *Replay) Name() string {
	return "replay"
}

// Remaining returns the number of frames not yet handed out.
func (r *Replay) Remaining() int {
	return len(r.frames) - r.next
}
