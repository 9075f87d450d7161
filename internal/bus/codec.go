package bus

// Mod is the raw value of a beat's mod field. Its meaning depends on the width class:
//   - class 0 has no mod field and the value is always 0
//   - class 1 uses a single bit, 1 meaning only the first byte is valid
//   - larger classes hold a byte count, 0 meaning all lanes are valid
type Mod uint32

// Codec converts between frame bytes and the data and mod fields of a beat.
// It is the only width-specific part of the datapath.
type Codec interface {
	// Class returns the width class served by the codec.
	Class() Class
	// Pack copies up to Class().Bytes() bytes of frame starting at offset into a new
	// data word. Lane 0 is the most significant byte; lanes past the end of frame are zero.
	Pack(frame []byte, offset int) []byte
	// EncodeMod returns the mod field for a beat carrying consumed valid bytes.
	EncodeMod(consumed int) Mod
	// DecodeMod returns the number of valid bytes encoded by m.
	DecodeMod(m Mod) int
}

// NewCodec returns the codec for class c.
func NewCodec(c Class) Codec {
	switch {
	case c == Class8:
		return noModCodec{lanes{c}}
	case c == Class16:
		return flagModCodec{lanes{c}}
	case c.Valid():
		return countModCodec{lanes{c}}
	default:
		panic("bus: invalid width class")
	}
}

// lanes implements the width-independent part of a codec.
type lanes struct {
	class Class
}

func (l lanes) Class() Class {
	return l.class
}

func (l lanes) Pack(frame []byte, offset int) []byte {
	dat := make([]byte, l.class.Bytes())
	if offset < 0 || offset >= len(frame) {
		return dat
	}
	copy(dat, frame[offset:])
	return dat
}

// noModCodec serves 8-bit buses where every beat carries exactly one byte.
type noModCodec struct{ lanes }

func (noModCodec) EncodeMod(int) Mod { return 0 }

func (noModCodec) DecodeMod(Mod) int { return 1 }

// flagModCodec serves 16-bit buses, where the mod bit marks a single valid byte.
type flagModCodec struct{ lanes }

func (flagModCodec) EncodeMod(consumed int) Mod {
	if consumed == 1 {
		return 1
	}
	return 0
}

func (flagModCodec) DecodeMod(m Mod) int {
	if m != 0 {
		return 1
	}
	return 2
}

// countModCodec serves 32-bit and wider buses.
type countModCodec struct{ lanes }

func (c countModCodec) EncodeMod(consumed int) Mod {
	if consumed <= 0 || consumed >= c.class.Bytes() {
		return 0
	}
	return Mod(consumed)
}

func (c countModCodec) DecodeMod(m Mod) int {
	if m == 0 || int(m) >= c.class.Bytes() {
		return c.class.Bytes()
	}
	return int(m)
}
