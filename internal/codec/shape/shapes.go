package shape

import (
	"fmt"
	"math/big"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/scale"
)

type primShape struct {
	p metadata.Primitive
}

func (s primShape) Encode(e *scale.Encoder, v any) error {
	switch s.p {
	case metadata.PrimBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("shape: expected bool, got %T", v)
		}
		e.Bool(b)
		return nil
	case metadata.PrimChar:
		n, err := toBigInt(v)
		if err != nil {
			return err
		}
		return e.Uint(n, 4)
	case metadata.PrimStr:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("shape: expected string, got %T", v)
		}
		e.Str(str)
		return nil
	}

	n, err := toBigInt(v)
	if err != nil {
		return err
	}
	width, signed := primWidth(s.p)
	if signed {
		return e.Int(n, width)
	}
	return e.Uint(n, width)
}

func (s primShape) Decode(d *scale.Decoder) (any, error) {
	switch s.p {
	case metadata.PrimBool:
		return d.Bool()
	case metadata.PrimChar:
		v, err := d.U32()
		return rune(v), err
	case metadata.PrimStr:
		return d.Str()
	case metadata.PrimU8:
		return d.U8()
	case metadata.PrimU16:
		return d.U16()
	case metadata.PrimU32:
		return d.U32()
	case metadata.PrimU64:
		return d.U64()
	case metadata.PrimI8:
		v, err := d.U8()
		return int8(v), err
	case metadata.PrimI16:
		v, err := d.U16()
		return int16(v), err
	case metadata.PrimI32:
		v, err := d.U32()
		return int32(v), err
	case metadata.PrimI64:
		v, err := d.U64()
		return int64(v), err
	}
	width, signed := primWidth(s.p)
	if signed {
		return d.Int(width)
	}
	return d.Uint(width)
}

func primWidth(p metadata.Primitive) (int, bool) {
	switch p {
	case metadata.PrimU8:
		return 1, false
	case metadata.PrimU16:
		return 2, false
	case metadata.PrimU32:
		return 4, false
	case metadata.PrimU64:
		return 8, false
	case metadata.PrimU128:
		return 16, false
	case metadata.PrimU256:
		return 32, false
	case metadata.PrimI8:
		return 1, true
	case metadata.PrimI16:
		return 2, true
	case metadata.PrimI32:
		return 4, true
	case metadata.PrimI64:
		return 8, true
	case metadata.PrimI128:
		return 16, true
	}
	return 32, true
}

type compactShape struct{}

func (compactShape) Encode(e *scale.Encoder, v any) error {
	n, err := toBigInt(v)
	if err != nil {
		return err
	}
	return e.Compact(n)
}

func (compactShape) Decode(d *scale.Decoder) (any, error) {
	return d.Compact()
}

type bytesShape struct {
	fixed  bool
	length int
}

func (s bytesShape) Encode(e *scale.Encoder, v any) error {
	b, err := toBytes(v)
	if err != nil {
		return err
	}
	if s.fixed {
		if len(b) != s.length {
			return fmt.Errorf("shape: expected %d bytes, got %d", s.length, len(b))
		}
		e.Write(b)
		return nil
	}
	e.ByteSlice(b)
	return nil
}

func (s bytesShape) Decode(d *scale.Decoder) (any, error) {
	if !s.fixed {
		return d.ByteSlice()
	}
	b, err := d.Read(s.length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

type seqShape struct {
	elem Shape
}

func (s seqShape) Encode(e *scale.Encoder, v any) error {
	items, err := toSlice(v)
	if err != nil {
		return err
	}
	e.CompactUint(uint64(len(items)))
	for i, item := range items {
		if err := s.elem.Encode(e, item); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return nil
}

func (s seqShape) Decode(d *scale.Decoder) (any, error) {
	n, err := d.Length()
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		item, err := s.elem.Decode(d)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

type arrayShape struct {
	elem   Shape
	length int
}

func (s arrayShape) Encode(e *scale.Encoder, v any) error {
	items, err := toSlice(v)
	if err != nil {
		return err
	}
	if len(items) != s.length {
		return fmt.Errorf("shape: expected %d elements, got %d", s.length, len(items))
	}
	for i, item := range items {
		if err := s.elem.Encode(e, item); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return nil
}

func (s arrayShape) Decode(d *scale.Decoder) (any, error) {
	out := make([]any, 0, s.length)
	for i := 0; i < s.length; i++ {
		item, err := s.elem.Decode(d)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

type tupleShape struct {
	elems []Shape
}

func (s tupleShape) Encode(e *scale.Encoder, v any) error {
	if len(s.elems) == 0 {
		return nil
	}
	items, err := toSlice(v)
	if err != nil {
		return err
	}
	if len(items) != len(s.elems) {
		return fmt.Errorf("shape: expected %d-tuple, got %d elements", len(s.elems), len(items))
	}
	for i, elem := range s.elems {
		if err := elem.Encode(e, items[i]); err != nil {
			return fmt.Errorf("tuple[%d]: %w", i, err)
		}
	}
	return nil
}

func (s tupleShape) Decode(d *scale.Decoder) (any, error) {
	if len(s.elems) == 0 {
		return nil, nil
	}
	out := make([]any, len(s.elems))
	for i, elem := range s.elems {
		v, err := elem.Decode(d)
		if err != nil {
			return nil, fmt.Errorf("tuple[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// structShape covers composites and variant payloads.
type structShape struct {
	named  bool
	names  []string
	raw    []string
	fields []Shape
}

func (s *structShape) Encode(e *scale.Encoder, v any) error {
	switch {
	case len(s.fields) == 0:
		return nil
	case s.named:
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("shape: expected map for struct, got %T", v)
		}
		for i, f := range s.fields {
			fv, ok := m[s.names[i]]
			if !ok {
				fv = m[s.raw[i]]
			}
			if err := f.Encode(e, fv); err != nil {
				return fmt.Errorf("%s: %w", s.names[i], err)
			}
		}
		return nil
	case len(s.fields) == 1:
		return s.fields[0].Encode(e, v)
	}
	return tupleShape{elems: s.fields}.Encode(e, v)
}

func (s *structShape) Decode(d *scale.Decoder) (any, error) {
	switch {
	case len(s.fields) == 0:
		return nil, nil
	case s.named:
		out := make(map[string]any, len(s.fields))
		for i, f := range s.fields {
			v, err := f.Decode(d)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.names[i], err)
			}
			out[s.names[i]] = v
		}
		return out, nil
	case len(s.fields) == 1:
		return s.fields[0].Decode(d)
	}
	return tupleShape{elems: s.fields}.Decode(d)
}

type variantArm struct {
	tag     string
	index   uint8
	payload *structShape
}

type variantShape struct {
	arms    []variantArm
	byIndex map[uint8]int
	byTag   map[string]int
}

func (s *variantShape) Encode(e *scale.Encoder, v any) error {
	tag, payload, err := toEnum(v)
	if err != nil {
		return err
	}
	i, ok := s.byTag[tag]
	if !ok {
		return fmt.Errorf("shape: unknown variant %q", tag)
	}
	arm := s.arms[i]
	e.U8(arm.index)
	if err := arm.payload.Encode(e, payload); err != nil {
		return fmt.Errorf("%s: %w", tag, err)
	}
	return nil
}

func (s *variantShape) Decode(d *scale.Decoder) (any, error) {
	idx, err := d.U8()
	if err != nil {
		return nil, err
	}
	i, ok := s.byIndex[idx]
	if !ok {
		return nil, fmt.Errorf("shape: unknown variant index %d", idx)
	}
	arm := s.arms[i]
	v, err := arm.payload.Decode(d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", arm.tag, err)
	}
	return Enum{Tag: arm.tag, Value: v}, nil
}

type optionShape struct {
	inner Shape
}

func (s optionShape) Encode(e *scale.Encoder, v any) error {
	if v == nil {
		e.U8(0)
		return nil
	}
	e.U8(1)
	return s.inner.Encode(e, v)
}

func (s optionShape) Decode(d *scale.Decoder) (any, error) {
	tag, err := d.U8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		return s.inner.Decode(d)
	}
	return nil, fmt.Errorf("shape: invalid option tag %d", tag)
}

type bitSeqShape struct {
	width int
	msb   bool
}

func (s bitSeqShape) Encode(e *scale.Encoder, v any) error {
	bits, ok := v.([]bool)
	if !ok {
		return fmt.Errorf("shape: expected []bool for bit sequence, got %T", v)
	}
	e.CompactUint(uint64(len(bits)))
	unitBits := s.width * 8
	units := (len(bits) + unitBits - 1) / unitBits
	for u := 0; u < units; u++ {
		word := new(big.Int)
		for b := 0; b < unitBits; b++ {
			i := u*unitBits + b
			if i >= len(bits) || !bits[i] {
				continue
			}
			pos := b
			if s.msb {
				pos = unitBits - 1 - b
			}
			word.SetBit(word, pos, 1)
		}
		if err := e.Uint(word, s.width); err != nil {
			return err
		}
	}
	return nil
}

func (s bitSeqShape) Decode(d *scale.Decoder) (any, error) {
	n, err := d.CompactUint()
	if err != nil {
		return nil, err
	}
	unitBits := s.width * 8
	units := (int(n) + unitBits - 1) / unitBits
	if units*s.width > d.Remaining() {
		return nil, fmt.Errorf("%w: bit sequence of %d bits", scale.ErrUnexpectedEOF, n)
	}
	bits := make([]bool, n)
	for u := 0; u < units; u++ {
		word, err := d.Uint(s.width)
		if err != nil {
			return nil, err
		}
		for b := 0; b < unitBits; b++ {
			i := u*unitBits + b
			if i >= int(n) {
				break
			}
			pos := b
			if s.msb {
				pos = unitBits - 1 - b
			}
			bits[i] = word.Bit(pos) == 1
		}
	}
	return bits, nil
}
