package metadata

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vietddude/chainwallet/internal/codec/scale"
)

// Magic prefixes every runtime metadata blob ("meta").
var Magic = []byte("meta")

// ErrUnsupportedVersion is returned for metadata versions other than 14 and 15.
var ErrUnsupportedVersion = errors.New("metadata: unsupported version")

// Decode parses a prefixed runtime metadata blob.
func Decode(data []byte) (*Metadata, error) {
	if len(data) < 5 || !bytes.Equal(data[:4], Magic) {
		return nil, errors.New("metadata: missing magic prefix")
	}
	d := &reader{Decoder: scale.NewDecoder(data[4:])}

	version := d.u8()
	if d.err != nil {
		return nil, d.err
	}
	if version != 14 && version != 15 {
		return nil, fmt.Errorf("%w: v%d", ErrUnsupportedVersion, version)
	}

	m := &Metadata{Version: version}
	m.Registry = d.registry()
	m.Pallets = readVec(d, func() Pallet { return d.pallet(version) })

	if version == 14 {
		m.Extrinsic.Type = d.compact32()
		m.Extrinsic.Version = d.u8()
		m.Extrinsic.SignedExtensions = readVec(d, d.signedExtension)
		m.RuntimeType = d.compact32()
		if d.err == nil {
			recoverExtrinsicParams(m)
		}
	} else {
		m.Extrinsic.Version = d.u8()
		m.Extrinsic.AddressType = d.compact32()
		m.Extrinsic.CallType = d.compact32()
		m.Extrinsic.SignatureType = d.compact32()
		m.Extrinsic.ExtraType = d.compact32()
		m.Extrinsic.SignedExtensions = readVec(d, d.signedExtension)
		m.RuntimeType = d.compact32()
		m.APIs = readVec(d, d.runtimeAPI)
		m.OuterEnums = OuterEnums{Call: d.compact32(), Event: d.compact32(), Error: d.compact32()}
		m.Custom = readVec(d, func() CustomValue {
			return CustomValue{Name: d.str(), Type: d.compact32(), Value: d.bytes()}
		})
	}

	if d.err != nil {
		return nil, fmt.Errorf("metadata v%d: %w", version, d.err)
	}
	return m, nil
}

// recoverExtrinsicParams fills the v15-style extrinsic type ids from the
// generic parameters of the v14 UncheckedExtrinsic type.
func recoverExtrinsicParams(m *Metadata) {
	t, ok := m.Registry.Lookup(m.Extrinsic.Type)
	if !ok {
		return
	}
	if id, ok := t.Param("Address"); ok {
		m.Extrinsic.AddressType = id
	}
	if id, ok := t.Param("Call"); ok {
		m.Extrinsic.CallType = id
	}
	if id, ok := t.Param("Signature"); ok {
		m.Extrinsic.SignatureType = id
	}
	if id, ok := t.Param("Extra"); ok {
		m.Extrinsic.ExtraType = id
	}
}

// reader keeps the first error so the structural decoding below reads
// top to bottom without an error check per field.
type reader struct {
	*scale.Decoder
	err error
}

func (d *reader) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *reader) u8() uint8 {
	if d.err != nil {
		return 0
	}
	v, err := d.U8()
	d.fail(err)
	return v
}

func (d *reader) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.U32()
	d.fail(err)
	return v
}

func (d *reader) compact32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.CompactUint()
	if err == nil && v > 0xffffffff {
		err = fmt.Errorf("compact %d overflows u32", v)
	}
	d.fail(err)
	return uint32(v)
}

func (d *reader) str() string {
	if d.err != nil {
		return ""
	}
	v, err := d.Str()
	d.fail(err)
	return v
}

func (d *reader) bytes() []byte {
	if d.err != nil {
		return nil
	}
	v, err := d.ByteSlice()
	d.fail(err)
	return v
}

func (d *reader) length() int {
	if d.err != nil {
		return 0
	}
	n, err := d.Length()
	d.fail(err)
	return n
}

func (d *reader) option() bool {
	switch b := d.u8(); b {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail(fmt.Errorf("invalid option tag %d", b))
		return false
	}
}

func (d *reader) strings() []string {
	return readVec(d, d.str)
}

func (d *reader) optString() string {
	if d.option() {
		return d.str()
	}
	return ""
}

func (d *reader) optType() *uint32 {
	if d.option() {
		v := d.compact32()
		return &v
	}
	return nil
}

func readVec[T any](d *reader, item func() T) []T {
	n := d.length()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]T, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, item())
	}
	return out
}

func (d *reader) registry() *Registry {
	types := readVec(d, func() *Type {
		t := &Type{ID: d.compact32()}
		t.Path = d.strings()
		t.Params = readVec(d, func() TypeParam {
			return TypeParam{Name: d.str(), Type: d.optType()}
		})
		t.Def = d.typeDef()
		t.Docs = d.strings()
		return t
	})
	return NewRegistry(types...)
}

func (d *reader) field() Field {
	return Field{
		Name:     d.optString(),
		Type:     d.compact32(),
		TypeName: d.optString(),
		Docs:     d.strings(),
	}
}

func (d *reader) typeDef() TypeDef {
	kind := d.u8()
	def := TypeDef{Kind: Kind(kind)}
	switch def.Kind {
	case KindComposite:
		def.Fields = readVec(d, d.field)
	case KindVariant:
		def.Variants = readVec(d, func() Variant {
			return Variant{Name: d.str(), Fields: readVec(d, d.field), Index: d.u8(), Docs: d.strings()}
		})
	case KindSequence, KindCompact:
		def.Elem = d.compact32()
	case KindArray:
		def.Len = d.u32()
		def.Elem = d.compact32()
	case KindTuple:
		def.Tuple = readVec(d, d.compact32)
	case KindPrimitive:
		p := d.u8()
		if p > uint8(PrimI256) {
			d.fail(fmt.Errorf("unknown primitive %d", p))
		}
		def.Primitive = Primitive(p)
	case KindBitSequence:
		def.BitStore = d.compact32()
		def.BitOrder = d.compact32()
	default:
		d.fail(fmt.Errorf("unknown type definition kind %d", kind))
	}
	return def
}

func (d *reader) pallet(version uint8) Pallet {
	p := Pallet{Name: d.str()}
	if d.option() {
		p.Storage = &PalletStorage{Prefix: d.str(), Entries: readVec(d, d.storageEntry)}
	}
	p.Calls = d.optType()
	p.Event = d.optType()
	p.Constants = readVec(d, func() Constant {
		return Constant{Name: d.str(), Type: d.compact32(), Value: d.bytes(), Docs: d.strings()}
	})
	p.Error = d.optType()
	p.Index = d.u8()
	if version >= 15 {
		p.Docs = d.strings()
	}
	return p
}

func (d *reader) storageEntry() StorageEntry {
	e := StorageEntry{Name: d.str(), Modifier: Modifier(d.u8())}
	switch kind := d.u8(); kind {
	case 0:
		e.Plain = true
		e.Value = d.compact32()
	case 1:
		e.Hashers = readVec(d, func() Hasher {
			h := d.u8()
			if h > uint8(HasherIdentity) {
				d.fail(fmt.Errorf("unknown storage hasher %d", h))
			}
			return Hasher(h)
		})
		e.Key = d.compact32()
		e.Value = d.compact32()
	default:
		d.fail(fmt.Errorf("unknown storage entry kind %d", kind))
	}
	e.Default = d.bytes()
	e.Docs = d.strings()
	return e
}

func (d *reader) signedExtension() SignedExtension {
	return SignedExtension{Identifier: d.str(), Type: d.compact32(), AdditionalSigned: d.compact32()}
}

func (d *reader) runtimeAPI() RuntimeAPI {
	return RuntimeAPI{
		Name: d.str(),
		Methods: readVec(d, func() APIMethod {
			return APIMethod{
				Name: d.str(),
				Inputs: readVec(d, func() APIParam {
					return APIParam{Name: d.str(), Type: d.compact32()}
				}),
				Output: d.compact32(),
				Docs:   d.strings(),
			}
		}),
		Docs: d.strings(),
	}
}
