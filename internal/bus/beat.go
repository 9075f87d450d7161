package bus

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Beat is one clock cycle's worth of a frame on the datapath.
//
// Fields follow the wire order usr[31:0], err, val, sof, eof, mod, dat. Only the beat that
// carries EOF may have fewer than Class.Bytes() valid lanes.
type Beat struct {
	Class Class  `json:"class"`
	Usr   uint32 `json:"usr"`
	Err   bool   `json:"err"`
	Val   bool   `json:"val"`
	SOF   bool   `json:"sof"`
	EOF   bool   `json:"eof"`
	Mod   Mod    `json:"mod"`
	Dat   []byte `json:"dat"`
}

// Reset returns the idle beat for class c: all flags low, mod reset and data zero.
func Reset(c Class) Beat {
	return Beat{
		Class: c,
		Dat:   make([]byte, c.Bytes()),
	}
}

// Clone returns a deep copy of b.
func (b Beat) Clone() Beat {
	out := b
	out.Dat = append([]byte(nil), b.Dat...)
	return out
}

// Equal reports whether two beats carry identical field values.
func (b Beat) Equal(o Beat) bool {
	return b.Class == o.Class &&
		b.Usr == o.Usr &&
		b.Err == o.Err &&
		b.Val == o.Val &&
		b.SOF == o.SOF &&
		b.EOF == o.EOF &&
		b.Mod == o.Mod &&
		bytes.Equal(b.Dat, o.Dat)
}

// ByteCount returns the number of valid lanes according to the mod field.
func (b Beat) ByteCount() int {
	return NewCodec(b.Class).DecodeMod(b.Mod)
}

// Bytes returns the valid lanes of the beat in frame order.
func (b Beat) Bytes() []byte {
	n := b.ByteCount()
	if n > len(b.Dat) {
		n = len(b.Dat)
	}
	return b.Dat[:n]
}

// String renders the beat as one "name = 0x<value>" line per field.
func (b Beat) String() string {
	c := b.Class
	bits := c.Bits()
	dat := make([]byte, c.Bytes())
	copy(dat, b.Dat)

	usrName := "usr[31:0]"
	modName := ""
	switch {
	case c == Class16:
		modName = "mod"
	case c > Class16:
		modName = fmt.Sprintf("mod[%d:0]", int(c)-1)
	}

	var datNames []string
	var datWords [][]byte
	if c == Class512 {
		half := c.Bytes() / 2
		datNames = []string{
			fmt.Sprintf("dat[%d:%d]", bits-1, bits/2),
			fmt.Sprintf("dat[%d:0]", bits/2-1),
		}
		datWords = [][]byte{dat[:half], dat[half:]}
	} else {
		datNames = []string{fmt.Sprintf("dat[%d:0]", bits-1)}
		datWords = [][]byte{dat}
	}

	w := 3
	for _, n := range append([]string{usrName, modName}, datNames...) {
		if len(n) > w {
			w = len(n)
		}
	}

	var sb strings.Builder
	line := func(name, value string) {
		fmt.Fprintf(&sb, " %*s = 0x%s\n", w, name, value)
	}

	line(usrName, fmt.Sprintf("%x", b.Usr))
	line("err", flag(b.Err))
	line("val", flag(b.Val))
	line("sof", flag(b.SOF))
	line("eof", flag(b.EOF))

	if c > Class8 {
		modDigits := 1
		if c > Class128 {
			modDigits = 2
		}
		line(modName, fmt.Sprintf("%0*x", modDigits, uint32(b.Mod)))
	}

	for i, name := range datNames {
		line(name, hex.EncodeToString(datWords[i]))
	}

	return sb.String()
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
