package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zsiec/fcbus/internal/bus"
)

func TestThresholds(t *testing.T) {
	tests := []struct {
		name         string
		width        int
		length       int
		wantLast     int
		wantPrefetch int
	}{
		{"empty", 4, 0, 0, 0},
		{"shorter than a beat", 4, 2, 0, 0},
		{"exactly one beat", 4, 4, 0, 0},
		{"one beat and a byte", 4, 5, 1, 0},
		{"exactly two beats", 4, 8, 4, 0},
		{"byte lane", 1, 3, 2, 1},
		{"three beats at 64b", 8, 20, 12, 4},
		{"long frame", 64, 1518, 1454, 1390},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(make([]byte, tt.length), bus.MustClass(tt.width))
			assert.Equal(t, tt.length, f.Len())
			assert.Equal(t, uint64(tt.length*8), f.BitCount())
			assert.Equal(t, tt.wantLast, f.LastOffset())
			assert.Equal(t, tt.wantPrefetch, f.PrefetchOffset())
		})
	}
}

func TestNewCopiesBytes(t *testing.T) {
	data := []byte{1, 2, 3}
	f := New(data, bus.Class8)
	data[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, f.Bytes())
}
