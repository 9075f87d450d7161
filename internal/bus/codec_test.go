package bus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func TestClassForBytes(t *testing.T) {
	for i, n := range []int{1, 2, 4, 8, 16, 32, 64} {
		c, err := ClassForBytes(n)
		require.NoError(t, err)
		assert.Equal(t, Class(i), c)
		assert.Equal(t, n, c.Bytes())
		assert.Equal(t, i, c.ModBits())
	}

	for _, n := range []int{0, 3, 12, 128, -1} {
		_, err := ClassForBytes(n)
		assert.Error(t, err, "width %d", n)
	}

	assert.Panics(t, func() { MustClass(3) })
	assert.Equal(t, "64b", Class64.String())
}

func TestPack(t *testing.T) {
	frame := seq(5)

	tests := []struct {
		name   string
		class  Class
		offset int
		want   []byte
	}{
		{"byte lane", Class8, 2, []byte{3}},
		{"full word", Class32, 0, []byte{1, 2, 3, 4}},
		{"partial tail", Class32, 4, []byte{5, 0, 0, 0}},
		{"wide tail", Class64, 0, []byte{1, 2, 3, 4, 5, 0, 0, 0}},
		{"past end", Class16, 5, []byte{0, 0}},
		{"negative offset", Class16, -1, []byte{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewCodec(tt.class).Pack(frame, tt.offset)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, tt.class.Bytes())
		})
	}
}

func TestPackDoesNotAlias(t *testing.T) {
	frame := seq(8)
	dat := NewCodec(Class64).Pack(frame, 0)
	dat[0] = 0xFF
	assert.Equal(t, byte(1), frame[0])
}

func TestEncodeMod(t *testing.T) {
	assert.Equal(t, Mod(0), NewCodec(Class8).EncodeMod(1))

	flag := NewCodec(Class16)
	assert.Equal(t, Mod(1), flag.EncodeMod(1))
	assert.Equal(t, Mod(0), flag.EncodeMod(2))

	count := NewCodec(Class32)
	assert.Equal(t, Mod(0), count.EncodeMod(4))
	assert.Equal(t, Mod(1), count.EncodeMod(1))
	assert.Equal(t, Mod(3), count.EncodeMod(3))
}

func TestModRoundTrip(t *testing.T) {
	for c := Class(0); c < NumClasses; c++ {
		codec := NewCodec(c)
		lo := 1
		if c == Class8 {
			lo = c.Bytes()
		}
		for k := lo; k <= c.Bytes(); k++ {
			assert.Equal(t, k, codec.DecodeMod(codec.EncodeMod(k)), "class %s k=%d", c, k)
		}
		assert.Equal(t, c.Bytes(), codec.DecodeMod(0), "sentinel for class %s", c)
	}
}

func TestReassemblyAcrossWidths(t *testing.T) {
	for c := Class(0); c < NumClasses; c++ {
		codec := NewCodec(c)
		w := c.Bytes()
		for n := 1; n <= 3*w+1; n++ {
			frame := seq(n)
			var out []byte
			for off := 0; off < n; off += w {
				valid := n - off
				if valid > w {
					valid = w
				}
				b := Beat{Class: c, Mod: codec.EncodeMod(valid), Dat: codec.Pack(frame, off)}
				out = append(out, b.Bytes()...)
			}
			require.True(t, bytes.Equal(frame, out), "class %s n=%d", c, n)
		}
	}
}

func TestNewCodecInvalidClass(t *testing.T) {
	assert.Panics(t, func() { NewCodec(Class(NumClasses)) })
}
