package source

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/fcbus/internal/errors"
)

func TestStreamSource_OverPipe(t *testing.T) {
	client, server := net.Pipe()
	src := NewStreamSource("pipe", server)
	defer src.Close()

	frames := [][]byte{{}, {1}, bytes.Repeat([]byte{0x5A}, 5000)}
	go func() {
		w := NewFrameWriter(client, 7)
		for _, f := range frames {
			if err := w.WriteFrame(f); err != nil {
				return
			}
		}
		client.Close()
	}()

	for _, want := range frames {
		got, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsSourceError(err))
	assert.Contains(t, err.Error(), "ended")
	assert.Equal(t, "pipe", src.Name())
}

func TestStreamSource_TruncatedFrame(t *testing.T) {
	data := []byte{0, 0, 0, 10, 1, 2, 3}
	src := NewStreamSource("short", io.NopCloser(bytes.NewReader(data)))

	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsSourceError(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStreamSource_OversizedFrame(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	src := NewStreamSource("huge", io.NopCloser(bytes.NewReader(data)))

	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsSourceError(err))
}

func TestStreamSource_CancelledContext(t *testing.T) {
	src := NewStreamSource("idle", io.NopCloser(bytes.NewReader(nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFrameWriter_Chunks(t *testing.T) {
	var writes []int
	w := NewFrameWriter(writerFunc(func(p []byte) (int, error) {
		writes = append(writes, len(p))
		return len(p), nil
	}), 4)

	require.NoError(t, w.WriteFrame([]byte{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, []int{4, 4, 2}, writes)

	assert.Error(t, w.WriteFrame(make([]byte, MaxStreamFrame+1)))
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
