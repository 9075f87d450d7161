package bus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReset(t *testing.T) {
	for c := Class(0); c < NumClasses; c++ {
		b := Reset(c)
		assert.False(t, b.Val || b.SOF || b.EOF || b.Err)
		assert.Equal(t, Mod(0), b.Mod)
		assert.Len(t, b.Dat, c.Bytes())
	}
}

func TestBeatEqualAndClone(t *testing.T) {
	a := Beat{Class: Class32, Val: true, SOF: true, Dat: []byte{1, 2, 3, 4}}
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Dat[0] = 9
	assert.False(t, a.Equal(b), "clone must not share data")
	assert.Equal(t, byte(1), a.Dat[0])

	c := a.Clone()
	c.EOF = true
	assert.False(t, a.Equal(c))
}

func TestBeatBytes(t *testing.T) {
	b := Beat{Class: Class32, EOF: true, Mod: 1, Dat: []byte{0xAA, 0, 0, 0}}
	assert.Equal(t, 1, b.ByteCount())
	assert.Equal(t, []byte{0xAA}, b.Bytes())

	full := Beat{Class: Class16, Dat: []byte{1, 2}}
	assert.Equal(t, []byte{1, 2}, full.Bytes())
}

func TestBeatString(t *testing.T) {
	b := Beat{
		Class: Class32,
		Val:   true,
		SOF:   true,
		Dat:   []byte{0xCA, 0xBB, 0xBB, 0xBB},
	}

	want := strings.Join([]string{
		" usr[31:0] = 0x0",
		"       err = 0x0",
		"       val = 0x1",
		"       sof = 0x1",
		"       eof = 0x0",
		"  mod[1:0] = 0x0",
		" dat[31:0] = 0xcabbbbbb",
		"",
	}, "\n")
	assert.Equal(t, want, b.String())
}

func TestBeatStringByteLane(t *testing.T) {
	b := Beat{Class: Class8, Usr: 0xABC, Val: true, EOF: true, Dat: []byte{0x05}}

	want := strings.Join([]string{
		" usr[31:0] = 0xabc",
		"       err = 0x0",
		"       val = 0x1",
		"       sof = 0x0",
		"       eof = 0x1",
		"  dat[7:0] = 0x05",
		"",
	}, "\n")
	assert.Equal(t, want, b.String())
}

func TestBeatStringWidest(t *testing.T) {
	b := Reset(Class512)
	b.Mod = 0x3
	b.Dat[0] = 0xFF
	b.Dat[63] = 0x01

	out := b.String()
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	assert.Len(t, lines, 8)
	assert.Equal(t, "     mod[5:0] = 0x03", lines[5])
	assert.Equal(t, " dat[511:256] = 0xff"+strings.Repeat("0", 62), lines[6])
	assert.Equal(t, "   dat[255:0] = 0x"+strings.Repeat("0", 62)+"01", lines[7])
}

func TestBeatStringFlagMod(t *testing.T) {
	b := Reset(Class16)
	b.Mod = 1
	assert.Contains(t, b.String(), "       mod = 0x1\n")
}
