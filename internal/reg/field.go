// Package reg describes bit-fields of 32-bit peripheral registers.
package reg

// Field is a contiguous run of Width bits starting at bit Shift.
type Field struct {
	Shift uint8
	Width uint8
}

// Bit returns the single-bit field at position n.
func Bit(n uint8) Field { return Field{Shift: n, Width: 1} }

// Bits returns the field covering bits lo..hi inclusive.
func Bits(hi, lo uint8) Field { return Field{Shift: lo, Width: hi - lo + 1} }

// Mask is the field's bits in register position.
func (f Field) Mask() uint32 {
	if f.Width >= 32 {
		return ^uint32(0)
	}
	return ((1 << f.Width) - 1) << f.Shift
}

// Val places x into the field's position, truncating it to the field width.
func (f Field) Val(x uint32) uint32 { return (x << f.Shift) & f.Mask() }

// Get extracts the field from a register value.
func (f Field) Get(v uint32) uint32 { return (v & f.Mask()) >> f.Shift }

// Set returns v with the field replaced by x.
func (f Field) Set(v, x uint32) uint32 { return v&^f.Mask() | f.Val(x) }

// IsSet reports whether any bit of the field is set in v.
func (f Field) IsSet(v uint32) bool { return v&f.Mask() != 0 }
