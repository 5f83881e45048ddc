// Package metadatatest builds small but realistic runtime metadata documents
// for tests: a legacy native-balances chain, a chain with a fungible tokens
// pallet and an equilibrium-style chain.
package metadatatest

import "github.com/vietddude/chainwallet/internal/codec/metadata"

// Builder allocates registry types with sequential ids.
type Builder struct {
	types []*metadata.Type
	prims map[metadata.Primitive]uint32
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{prims: make(map[metadata.Primitive]uint32)}
}

// Add appends a type and returns its id.
func (b *Builder) Add(path []string, def metadata.TypeDef, params ...metadata.TypeParam) uint32 {
	id := uint32(len(b.types))
	b.types = append(b.types, &metadata.Type{ID: id, Path: path, Params: params, Def: def})
	return id
}

// Prim returns the id of a primitive, allocating it once.
func (b *Builder) Prim(p metadata.Primitive) uint32 {
	if id, ok := b.prims[p]; ok {
		return id
	}
	id := b.Add(nil, metadata.TypeDef{Kind: metadata.KindPrimitive, Primitive: p})
	b.prims[p] = id
	return id
}

// Struct adds a composite type.
func (b *Builder) Struct(path []string, fields ...metadata.Field) uint32 {
	return b.Add(path, metadata.TypeDef{Kind: metadata.KindComposite, Fields: fields})
}

// Enum adds a variant type.
func (b *Builder) Enum(path []string, variants ...metadata.Variant) uint32 {
	return b.Add(path, metadata.TypeDef{Kind: metadata.KindVariant, Variants: variants})
}

// Seq adds a sequence type.
func (b *Builder) Seq(elem uint32) uint32 {
	return b.Add(nil, metadata.TypeDef{Kind: metadata.KindSequence, Elem: elem})
}

// Array adds a fixed size array type.
func (b *Builder) Array(n uint32, elem uint32) uint32 {
	return b.Add(nil, metadata.TypeDef{Kind: metadata.KindArray, Len: n, Elem: elem})
}

// Tuple adds a tuple type.
func (b *Builder) Tuple(ids ...uint32) uint32 {
	return b.Add(nil, metadata.TypeDef{Kind: metadata.KindTuple, Tuple: ids})
}

// Compact adds a compact wrapper type.
func (b *Builder) Compact(elem uint32) uint32 {
	return b.Add(nil, metadata.TypeDef{Kind: metadata.KindCompact, Elem: elem})
}

// Option adds Option<inner>.
func (b *Builder) Option(inner uint32) uint32 {
	return b.Add([]string{"Option"}, metadata.TypeDef{
		Kind: metadata.KindVariant,
		Variants: []metadata.Variant{
			V("None", 0),
			V("Some", 1, F("", inner)),
		},
	}, metadata.TypeParam{Name: "T", Type: &inner})
}

// BitSeq adds a bit sequence with a u8 store and the given order ("Lsb0" or "Msb0").
func (b *Builder) BitSeq(order string) uint32 {
	store := b.Prim(metadata.PrimU8)
	ord := b.Struct([]string{"bitvec", "order", order})
	return b.Add(nil, metadata.TypeDef{Kind: metadata.KindBitSequence, BitStore: store, BitOrder: ord})
}

// Registry returns the registry of all added types.
func (b *Builder) Registry() *metadata.Registry {
	return metadata.NewRegistry(b.types...)
}

// F builds a field.
func F(name string, ty uint32) metadata.Field {
	return metadata.Field{Name: name, Type: ty}
}

// V builds a variant.
func V(name string, index uint8, fields ...metadata.Field) metadata.Variant {
	return metadata.Variant{Name: name, Index: index, Fields: fields}
}

func ptr(v uint32) *uint32 {
	return &v
}
