package source

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot3IncrLen_FirstFrame(t *testing.T) {
	frame := NewDot3IncrLen().Frame()
	require.Len(t, frame, 64)

	assert.Equal(t, []byte{0xCA, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB}, frame[0:6])
	assert.Equal(t, []byte{0x5A, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}, frame[6:12])
	assert.Equal(t, uint16(50), binary.BigEndian.Uint16(frame[12:14]))
	for i, b := range frame[14:] {
		assert.Equal(t, byte(i), b)
	}
}

func TestDot3IncrLen_GrowsAndWraps(t *testing.T) {
	g := NewDot3IncrLen()

	sizes := make([]int, 0, 1460)
	for i := 0; i < 1460; i++ {
		frame := g.Frame()
		payload := int(binary.BigEndian.Uint16(frame[12:14]))
		require.Len(t, frame, 14+payload)
		sizes = append(sizes, payload)
	}

	assert.Equal(t, 50, sizes[0])
	assert.Equal(t, 51, sizes[1])
	assert.Equal(t, 1500, sizes[1450])
	assert.Equal(t, 64, sizes[1451], "payload wraps after 1500 bytes")
	assert.Equal(t, 65, sizes[1452])
}

func TestDot3IncrLen_PayloadPatternWrapsAt256(t *testing.T) {
	g := NewDot3IncrLen()
	var frame []byte
	for len(frame) < 14+300 {
		frame = g.Frame()
	}
	assert.Equal(t, byte(255), frame[14+255])
	assert.Equal(t, byte(0), frame[14+256])
	assert.Equal(t, byte(1), frame[14+257])
}

func TestIncrLen(t *testing.T) {
	g := NewIncrLen(0)
	assert.Empty(t, g.Frame())
	assert.Equal(t, []byte{0}, g.Frame())
	assert.Equal(t, []byte{0, 1}, g.Frame())

	assert.Len(t, NewIncrLen(-5).Frame(), 0, "negative start clamps to zero")
}

func TestGenerators_HandleThroughDriver(t *testing.T) {
	client := NewDefaultLocalClient()
	src := NewDriverSource(client, HandlerIncrLen, "")

	for want := 1; want <= 4; want++ {
		frame, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Len(t, frame, want)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDot3IncrLen().Handle(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}
