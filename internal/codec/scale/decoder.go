package scale

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// ErrUnexpectedEOF is returned when the input ends before a value is complete.
var ErrUnexpectedEOF = errors.New("scale: unexpected end of input")

// Decoder reads SCALE primitives from a byte slice.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder creates a decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

// Offset returns the current read position.
func (d *Decoder) Offset() int {
	return d.pos
}

// Read consumes exactly n bytes.
func (d *Decoder) Read(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrUnexpectedEOF, n, d.pos)
	}
	out := d.data[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

// U8 reads one byte.
func (d *Decoder) U8() (uint8, error) {
	b, err := d.Read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16.
func (d *Decoder) U16() (uint16, error) {
	b, err := d.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32.
func (d *Decoder) U32() (uint32, error) {
	b, err := d.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (d *Decoder) U64() (uint64, error) {
	b, err := d.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Bool reads a strict boolean (0x00 or 0x01).
func (d *Decoder) Bool() (bool, error) {
	b, err := d.U8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("scale: invalid bool byte 0x%02x", b)
}

// Uint reads an unsigned integer of width bytes.
func (d *Decoder) Uint(width int) (*big.Int, error) {
	b, err := d.Read(width)
	if err != nil {
		return nil, err
	}
	return fromLE(b), nil
}

// Int reads a two's complement signed integer of width bytes.
func (d *Decoder) Int(width int) (*big.Int, error) {
	v, err := d.Uint(width)
	if err != nil {
		return nil, err
	}
	if v.Bit(width*8-1) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(width*8)))
	}
	return v, nil
}

// Compact reads a compact integer of arbitrary size.
func (d *Decoder) Compact() (*big.Int, error) {
	first, err := d.U8()
	if err != nil {
		return nil, err
	}
	switch first & 0b11 {
	case 0b00:
		return big.NewInt(int64(first >> 2)), nil
	case 0b01:
		next, err := d.U8()
		if err != nil {
			return nil, err
		}
		return big.NewInt(int64((uint16(next)<<8 | uint16(first)) >> 2)), nil
	case 0b10:
		rest, err := d.Read(3)
		if err != nil {
			return nil, err
		}
		v := uint32(first) | uint32(rest[0])<<8 | uint32(rest[1])<<16 | uint32(rest[2])<<24
		return big.NewInt(int64(v >> 2)), nil
	}
	n := int(first>>2) + 4
	b, err := d.Read(n)
	if err != nil {
		return nil, err
	}
	return fromLE(b), nil
}

// CompactUint reads a compact integer that must fit in a uint64.
func (d *Decoder) CompactUint() (uint64, error) {
	v, err := d.Compact()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("scale: compact value %s overflows uint64", v)
	}
	return v.Uint64(), nil
}

// Length reads a compact length prefix and checks it against the remaining
// input so corrupt prefixes cannot trigger huge allocations.
func (d *Decoder) Length() (int, error) {
	n, err := d.CompactUint()
	if err != nil {
		return 0, err
	}
	if n > uint64(d.Remaining()) {
		return 0, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrUnexpectedEOF, n, d.Remaining())
	}
	return int(n), nil
}

// ByteSlice reads a length-prefixed byte string.
func (d *Decoder) ByteSlice() ([]byte, error) {
	n, err := d.Length()
	if err != nil {
		return nil, err
	}
	b, err := d.Read(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Str reads a length-prefixed string.
func (d *Decoder) Str() (string, error) {
	b, err := d.ByteSlice()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromLE(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	return new(big.Int).SetBytes(be)
}
