package bus

import "fmt"

// Class is the width class of a datapath. A bus of class c carries 1<<c bytes per beat.
type Class uint8

// Supported width classes.
const (
	Class8   Class = iota // 1 byte
	Class16               // 2 bytes
	Class32               // 4 bytes
	Class64               // 8 bytes
	Class128              // 16 bytes
	Class256              // 32 bytes
	Class512              // 64 bytes

	NumClasses = 7
)

// ClassForBytes returns the width class for a beat of n bytes.
func ClassForBytes(n int) (Class, error) {
	for c := Class(0); c < NumClasses; c++ {
		if c.Bytes() == n {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unsupported bus width: %d bytes (want 1, 2, 4, 8, 16, 32 or 64)", n)
}

// MustClass is like ClassForBytes but panics on an unsupported width.
func MustClass(n int) Class {
	c, err := ClassForBytes(n)
	if err != nil {
		panic(err)
	}
	return c
}

// Valid reports whether c is one of the supported classes.
func (c Class) Valid() bool {
	return c < NumClasses
}

// Bytes returns the number of byte lanes on the bus.
func (c Class) Bytes() int {
	return 1 << c
}

// Bits returns the data width in bits.
func (c Class) Bits() int {
	return 8 * c.Bytes()
}

// ModBits returns the number of bits of the mod field. Class 0 has no mod field.
func (c Class) ModBits() int {
	return int(c)
}

// String returns the data width, e.g. "64b".
func (c Class) String() string {
	return fmt.Sprintf("%db", c.Bits())
}
