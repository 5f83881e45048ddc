// Package metadata models the self-describing runtime metadata published by
// state-query chains (versions 14 and 15): the portable type registry, the
// pallets with their storage entries, calls and constants, the extrinsic
// format and, for v15, the runtime APIs.
package metadata

import "sort"

// Kind identifies the shape of a type definition node.
type Kind uint8

const (
	KindComposite Kind = iota
	KindVariant
	KindSequence
	KindArray
	KindTuple
	KindPrimitive
	KindCompact
	KindBitSequence
)

func (k Kind) String() string {
	switch k {
	case KindComposite:
		return "composite"
	case KindVariant:
		return "variant"
	case KindSequence:
		return "sequence"
	case KindArray:
		return "array"
	case KindTuple:
		return "tuple"
	case KindPrimitive:
		return "primitive"
	case KindCompact:
		return "compact"
	case KindBitSequence:
		return "bitsequence"
	}
	return "unknown"
}

// Primitive is a scalar wire type.
type Primitive uint8

const (
	PrimBool Primitive = iota
	PrimChar
	PrimStr
	PrimU8
	PrimU16
	PrimU32
	PrimU64
	PrimU128
	PrimU256
	PrimI8
	PrimI16
	PrimI32
	PrimI64
	PrimI128
	PrimI256
)

// Field is a struct member or variant payload member.
type Field struct {
	Name     string
	Type     uint32
	TypeName string
	Docs     []string
}

// Variant is one arm of a tagged union.
type Variant struct {
	Name   string
	Fields []Field
	Index  uint8
	Docs   []string
}

// TypeParam is a generic parameter of a type; Type is nil when erased.
type TypeParam struct {
	Name string
	Type *uint32
}

// TypeDef is the definition node of a registry type. Only the fields
// relevant to Kind are populated.
type TypeDef struct {
	Kind      Kind
	Fields    []Field
	Variants  []Variant
	Elem      uint32
	Len       uint32
	Tuple     []uint32
	Primitive Primitive
	BitStore  uint32
	BitOrder  uint32
}

// Type is one registry entry.
type Type struct {
	ID     uint32
	Path   []string
	Params []TypeParam
	Def    TypeDef
	Docs   []string
}

// PathString joins the type path with "::".
func (t *Type) PathString() string {
	out := ""
	for i, p := range t.Path {
		if i > 0 {
			out += "::"
		}
		out += p
	}
	return out
}

// Param returns the type id bound to the named generic parameter.
func (t *Type) Param(name string) (uint32, bool) {
	for _, p := range t.Params {
		if p.Name == name && p.Type != nil {
			return *p.Type, true
		}
	}
	return 0, false
}

// Registry is the portable type registry keyed by type id. Ids may be sparse
// after minimization.
type Registry struct {
	types map[uint32]*Type
}

// NewRegistry builds a registry from a list of types.
func NewRegistry(types ...*Type) *Registry {
	r := &Registry{types: make(map[uint32]*Type, len(types))}
	for _, t := range types {
		r.types[t.ID] = t
	}
	return r
}

// Lookup returns the type with the given id.
func (r *Registry) Lookup(id uint32) (*Type, bool) {
	t, ok := r.types[id]
	return t, ok
}

// Len returns the number of types.
func (r *Registry) Len() int {
	return len(r.types)
}

// IDs returns all type ids in ascending order.
func (r *Registry) IDs() []uint32 {
	ids := make([]uint32, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Modifier controls what a storage read returns for a missing key.
type Modifier uint8

const (
	ModifierOptional Modifier = iota
	ModifierDefault
)

// Hasher is a storage key hashing algorithm.
type Hasher uint8

const (
	HasherBlake2_128 Hasher = iota
	HasherBlake2_256
	HasherBlake2_128Concat
	HasherTwox128
	HasherTwox256
	HasherTwox64Concat
	HasherIdentity
)

// StorageEntry describes one storage item of a pallet. Plain entries have
// no hashers and no key.
type StorageEntry struct {
	Name     string
	Modifier Modifier
	Plain    bool
	Hashers  []Hasher
	Key      uint32
	Value    uint32
	Default  []byte
	Docs     []string
}

// PalletStorage holds the storage prefix and entries of a pallet.
type PalletStorage struct {
	Prefix  string
	Entries []StorageEntry
}

// Constant is a pallet constant with its encoded value.
type Constant struct {
	Name  string
	Type  uint32
	Value []byte
	Docs  []string
}

// Pallet describes one runtime module.
type Pallet struct {
	Name      string
	Storage   *PalletStorage
	Calls     *uint32
	Event     *uint32
	Constants []Constant
	Error     *uint32
	Index     uint8
	Docs      []string
}

// SignedExtension is one extra field carried by signed extrinsics.
type SignedExtension struct {
	Identifier       string
	Type             uint32
	AdditionalSigned uint32
}

// Extrinsic describes the transaction format. For v14 the address, call,
// signature and extra types are recovered from the generic parameters of
// the extrinsic type.
type Extrinsic struct {
	Version          uint8
	Type             uint32
	AddressType      uint32
	CallType         uint32
	SignatureType    uint32
	ExtraType        uint32
	SignedExtensions []SignedExtension
}

// APIParam is a named runtime API method input.
type APIParam struct {
	Name string
	Type uint32
}

// APIMethod is one runtime API method.
type APIMethod struct {
	Name   string
	Inputs []APIParam
	Output uint32
	Docs   []string
}

// RuntimeAPI groups the methods of one runtime API trait.
type RuntimeAPI struct {
	Name    string
	Methods []APIMethod
	Docs    []string
}

// OuterEnums references the aggregated call, event and error enums (v15).
type OuterEnums struct {
	Call  uint32
	Event uint32
	Error uint32
}

// CustomValue is a chain-specific custom metadata entry (v15).
type CustomValue struct {
	Name  string
	Type  uint32
	Value []byte
}

// Metadata is a decoded runtime metadata document.
type Metadata struct {
	Version     uint8
	Registry    *Registry
	Pallets     []Pallet
	Extrinsic   Extrinsic
	RuntimeType uint32
	APIs        []RuntimeAPI
	OuterEnums  OuterEnums
	Custom      []CustomValue
}

// Pallet returns the pallet with the given name.
func (m *Metadata) Pallet(name string) (*Pallet, bool) {
	for i := range m.Pallets {
		if m.Pallets[i].Name == name {
			return &m.Pallets[i], true
		}
	}
	return nil, false
}

// StorageEntry returns the storage entry pallet.item.
func (m *Metadata) StorageEntry(pallet, item string) (*Pallet, *StorageEntry, bool) {
	p, ok := m.Pallet(pallet)
	if !ok || p.Storage == nil {
		return nil, nil, false
	}
	for i := range p.Storage.Entries {
		if p.Storage.Entries[i].Name == item {
			return p, &p.Storage.Entries[i], true
		}
	}
	return nil, nil, false
}

// Constant returns the named constant of a pallet.
func (m *Metadata) Constant(pallet, name string) (*Constant, bool) {
	p, ok := m.Pallet(pallet)
	if !ok {
		return nil, false
	}
	for i := range p.Constants {
		if p.Constants[i].Name == name {
			return &p.Constants[i], true
		}
	}
	return nil, false
}

// APIMethod returns the runtime API method api.method.
func (m *Metadata) APIMethod(api, method string) (*APIMethod, bool) {
	for i := range m.APIs {
		if m.APIs[i].Name != api {
			continue
		}
		for j := range m.APIs[i].Methods {
			if m.APIs[i].Methods[j].Name == method {
				return &m.APIs[i].Methods[j], true
			}
		}
	}
	return nil, false
}
