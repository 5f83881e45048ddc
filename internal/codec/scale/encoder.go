// Package scale implements the SCALE primitive wire format used by
// state-query chains: fixed-width little-endian integers, compact integers,
// length-prefixed byte strings and booleans.
//
// Higher level structure (structs, enums, sequences) is driven by the shapes
// in package shape; this package only knows about primitives.
package scale

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Encoder accumulates SCALE encoded bytes.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded output.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Write appends raw bytes without a length prefix.
func (e *Encoder) Write(p []byte) {
	e.buf = append(e.buf, p...)
}

// U8 writes a single byte.
func (e *Encoder) U8(v uint8) {
	e.buf = append(e.buf, v)
}

// U16 writes a little-endian uint16.
func (e *Encoder) U16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

// U32 writes a little-endian uint32.
func (e *Encoder) U32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// U64 writes a little-endian uint64.
func (e *Encoder) U64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

// Bool writes 0x01 or 0x00.
func (e *Encoder) Bool(v bool) {
	if v {
		e.U8(1)
		return
	}
	e.U8(0)
}

// Uint writes an unsigned integer of the given byte width (16 for u128,
// 32 for u256).
func (e *Encoder) Uint(v *big.Int, width int) error {
	if v.Sign() < 0 {
		return fmt.Errorf("negative value %s for unsigned %d-byte integer", v, width)
	}
	if v.BitLen() > width*8 {
		return fmt.Errorf("value %s overflows %d-byte integer", v, width)
	}
	e.buf = append(e.buf, leBytes(v, width)...)
	return nil
}

// Int writes a two's complement signed integer of the given byte width.
func (e *Encoder) Int(v *big.Int, width int) error {
	limit := new(big.Int).Lsh(big.NewInt(1), uint(width*8-1))
	if v.Cmp(limit) >= 0 || v.Cmp(new(big.Int).Neg(limit)) < 0 {
		return fmt.Errorf("value %s overflows signed %d-byte integer", v, width)
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, new(big.Int).Lsh(big.NewInt(1), uint(width*8)))
	}
	e.buf = append(e.buf, leBytes(u, width)...)
	return nil
}

// Compact writes a compact (variable length) unsigned integer.
func (e *Encoder) Compact(v *big.Int) error {
	if v.Sign() < 0 {
		return fmt.Errorf("negative compact value %s", v)
	}
	if v.IsUint64() {
		e.CompactUint(v.Uint64())
		return nil
	}
	return e.compactBig(v)
}

// CompactUint writes a compact integer that fits in a uint64.
func (e *Encoder) CompactUint(v uint64) {
	switch {
	case v < 1<<6:
		e.U8(uint8(v << 2))
	case v < 1<<14:
		e.U16(uint16(v<<2) | 0b01)
	case v < 1<<30:
		e.U32(uint32(v<<2) | 0b10)
	default:
		_ = e.compactBig(new(big.Int).SetUint64(v))
	}
}

func (e *Encoder) compactBig(v *big.Int) error {
	n := (v.BitLen() + 7) / 8
	if n < 4 {
		n = 4
	}
	if n > 67 {
		return fmt.Errorf("compact value %s too large", v)
	}
	e.U8(uint8((n-4)<<2) | 0b11)
	e.buf = append(e.buf, leBytes(v, n)...)
	return nil
}

// ByteSlice writes a compact length prefix followed by the bytes.
func (e *Encoder) ByteSlice(p []byte) {
	e.CompactUint(uint64(len(p)))
	e.Write(p)
}

// Str writes a length-prefixed UTF-8 string.
func (e *Encoder) Str(s string) {
	e.ByteSlice([]byte(s))
}

func leBytes(v *big.Int, width int) []byte {
	out := make([]byte, width)
	be := v.Bytes()
	for i := 0; i < len(be) && i < width; i++ {
		out[i] = be[len(be)-1-i]
	}
	return out
}
