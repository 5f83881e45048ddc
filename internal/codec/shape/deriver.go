// Package shape derives encode/decode shapes from a chain's type registry.
//
// A Deriver turns registry type ids into Shapes. Shapes are memoized per type
// id and recursive types are resolved through a lazy placeholder stored
// before the definition is walked, so self-referential and mutually
// referential types terminate.
//
// Decoded values use a small canonical model:
//
//	bool, string, rune            bool, str, char
//	uint8..uint64, int8..int64    fixed width integers up to 64 bits
//	*big.Int                      128/256-bit integers and every compact
//	map[string]any                structs with named fields
//	[]any                         tuples, unnamed multi-field structs, sequences
//	[]byte                        sequences and arrays of u8
//	[]bool                        bit sequences
//	Enum                          tagged unions (Option decodes to nil or the value)
//
// Encoding accepts the canonical model plus a few conveniences (Go integer
// types, decimal and 0x-hex strings, bare variant tag strings).
package shape

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/scale"
)

// ErrUnsupportedType is returned when a type graph node cannot be turned
// into a shape.
var ErrUnsupportedType = errors.New("shape: unsupported type")

// Shape encodes and decodes values of one registry type.
type Shape interface {
	Encode(e *scale.Encoder, v any) error
	Decode(d *scale.Decoder) (any, error)
}

// Enum is a decoded tagged union value. Value is nil for unit variants.
type Enum struct {
	Tag   string
	Value any
}

// Deriver builds shapes for the types of one registry.
type Deriver struct {
	reg *metadata.Registry

	mu   sync.Mutex
	memo map[uint32]Shape
}

// NewDeriver creates a deriver over reg.
func NewDeriver(reg *metadata.Registry) *Deriver {
	return &Deriver{reg: reg, memo: make(map[uint32]Shape)}
}

// Registry returns the registry shapes are derived from.
func (d *Deriver) Registry() *metadata.Registry {
	return d.reg
}

// Shape returns the shape for type id.
func (d *Deriver) Shape(id uint32) (Shape, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	added := make([]uint32, 0, 8)
	s, err := d.derive(id, &added)
	if err != nil {
		// Drop the placeholders of this attempt so a later call starts clean.
		for _, a := range added {
			delete(d.memo, a)
		}
		return nil, err
	}
	return s, nil
}

func (d *Deriver) derive(id uint32, added *[]uint32) (Shape, error) {
	if s, ok := d.memo[id]; ok {
		return s, nil
	}
	t, ok := d.reg.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: type %d not in registry", ErrUnsupportedType, id)
	}

	lazy := &lazyShape{id: id}
	d.memo[id] = lazy
	*added = append(*added, id)

	s, err := d.build(t, added)
	if err != nil {
		return nil, err
	}
	lazy.target = s
	d.memo[id] = s
	return s, nil
}

func (d *Deriver) build(t *metadata.Type, added *[]uint32) (Shape, error) {
	def := t.Def
	switch def.Kind {
	case metadata.KindPrimitive:
		if def.Primitive > metadata.PrimI256 {
			return nil, fmt.Errorf("%w: primitive %d in type %d", ErrUnsupportedType, def.Primitive, t.ID)
		}
		return primShape{p: def.Primitive}, nil

	case metadata.KindCompact:
		return compactShape{}, nil

	case metadata.KindSequence:
		if d.isU8(def.Elem) {
			return bytesShape{}, nil
		}
		elem, err := d.derive(def.Elem, added)
		if err != nil {
			return nil, err
		}
		return seqShape{elem: elem}, nil

	case metadata.KindArray:
		if d.isU8(def.Elem) {
			return bytesShape{fixed: true, length: int(def.Len)}, nil
		}
		elem, err := d.derive(def.Elem, added)
		if err != nil {
			return nil, err
		}
		return arrayShape{elem: elem, length: int(def.Len)}, nil

	case metadata.KindTuple:
		elems := make([]Shape, len(def.Tuple))
		for i, id := range def.Tuple {
			s, err := d.derive(id, added)
			if err != nil {
				return nil, err
			}
			elems[i] = s
		}
		return tupleShape{elems: elems}, nil

	case metadata.KindComposite:
		return d.buildStruct(def.Fields, added)

	case metadata.KindVariant:
		if isOption(t) && !d.decodesToNil(t.Def.Variants[optionSomeIndex(t)].Fields[0].Type, nil) {
			inner, err := d.derive(t.Def.Variants[optionSomeIndex(t)].Fields[0].Type, added)
			if err != nil {
				return nil, err
			}
			return optionShape{inner: inner}, nil
		}
		return d.buildVariant(t, added)

	case metadata.KindBitSequence:
		return d.buildBitSequence(t)
	}
	return nil, fmt.Errorf("%w: kind %s in type %d", ErrUnsupportedType, def.Kind, t.ID)
}

func (d *Deriver) isU8(id uint32) bool {
	t, ok := d.reg.Lookup(id)
	return ok && t.Def.Kind == metadata.KindPrimitive && t.Def.Primitive == metadata.PrimU8
}

func (d *Deriver) buildStruct(fields []metadata.Field, added *[]uint32) (*structShape, error) {
	s := &structShape{
		fields: make([]Shape, len(fields)),
		names:  normalizeFieldNames(fields),
		raw:    make([]string, len(fields)),
	}
	for i, f := range fields {
		fs, err := d.derive(f.Type, added)
		if err != nil {
			return nil, err
		}
		s.fields[i] = fs
		s.raw[i] = f.Name
	}
	s.named = len(fields) > 0 && fields[0].Name != ""
	return s, nil
}

func (d *Deriver) buildVariant(t *metadata.Type, added *[]uint32) (Shape, error) {
	v := &variantShape{
		byIndex: make(map[uint8]int, len(t.Def.Variants)),
		byTag:   make(map[string]int, len(t.Def.Variants)),
	}
	for _, mv := range t.Def.Variants {
		payload, err := d.buildStruct(mv.Fields, added)
		if err != nil {
			return nil, err
		}
		if _, dup := v.byIndex[mv.Index]; dup {
			return nil, fmt.Errorf("%w: duplicate variant index %d in type %d", ErrUnsupportedType, mv.Index, t.ID)
		}
		v.byIndex[mv.Index] = len(v.arms)
		v.byTag[mv.Name] = len(v.arms)
		v.arms = append(v.arms, variantArm{tag: mv.Name, index: mv.Index, payload: payload})
	}
	return v, nil
}

func (d *Deriver) buildBitSequence(t *metadata.Type) (Shape, error) {
	store, ok := d.reg.Lookup(t.Def.BitStore)
	if !ok || store.Def.Kind != metadata.KindPrimitive {
		return nil, fmt.Errorf("%w: bit store of type %d", ErrUnsupportedType, t.ID)
	}
	width := 0
	switch store.Def.Primitive {
	case metadata.PrimU8:
		width = 1
	case metadata.PrimU16:
		width = 2
	case metadata.PrimU32:
		width = 4
	case metadata.PrimU64:
		width = 8
	default:
		return nil, fmt.Errorf("%w: bit store primitive %d", ErrUnsupportedType, store.Def.Primitive)
	}

	order, ok := d.reg.Lookup(t.Def.BitOrder)
	if !ok || len(order.Path) == 0 {
		return nil, fmt.Errorf("%w: bit order of type %d", ErrUnsupportedType, t.ID)
	}
	switch order.Path[len(order.Path)-1] {
	case "Lsb0":
		return bitSeqShape{width: width}, nil
	case "Msb0":
		return bitSeqShape{width: width, msb: true}, nil
	}
	return nil, fmt.Errorf("%w: bit order %s", ErrUnsupportedType, order.PathString())
}

func isOption(t *metadata.Type) bool {
	if len(t.Path) != 1 || t.Path[0] != "Option" || len(t.Def.Variants) != 2 {
		return false
	}
	some := t.Def.Variants[optionSomeIndex(t)]
	return some.Name == "Some" && len(some.Fields) == 1
}

// decodesToNil reports whether a value of type id can decode to nil. An
// option over such a type keeps its Some/None tags, otherwise Some(x) and
// None would decode alike.
func (d *Deriver) decodesToNil(id uint32, seen map[uint32]bool) bool {
	if seen[id] {
		return false
	}
	t, ok := d.reg.Lookup(id)
	if !ok {
		return false
	}
	def := t.Def
	switch def.Kind {
	case metadata.KindTuple:
		return len(def.Tuple) == 0
	case metadata.KindComposite:
		if len(def.Fields) == 0 {
			return true
		}
		if len(def.Fields) == 1 && def.Fields[0].Name == "" {
			if seen == nil {
				seen = make(map[uint32]bool)
			}
			seen[id] = true
			return d.decodesToNil(def.Fields[0].Type, seen)
		}
	case metadata.KindVariant:
		return isOption(t)
	}
	return false
}

func optionSomeIndex(t *metadata.Type) int {
	if t.Def.Variants[0].Name == "Some" {
		return 0
	}
	return 1
}

type lazyShape struct {
	id     uint32
	target Shape
}

func (l *lazyShape) Encode(e *scale.Encoder, v any) error {
	if l.target == nil {
		return fmt.Errorf("shape: type %d used before resolution", l.id)
	}
	return l.target.Encode(e, v)
}

func (l *lazyShape) Decode(d *scale.Decoder) (any, error) {
	if l.target == nil {
		return nil, fmt.Errorf("shape: type %d used before resolution", l.id)
	}
	return l.target.Decode(d)
}
