package metadata

import "github.com/vietddude/chainwallet/internal/codec/scale"

// Encode serializes the metadata back into a prefixed blob that Decode
// accepts. Empty optional names are written as None.
func (m *Metadata) Encode() []byte {
	e := scale.NewEncoder()
	e.Write(Magic)
	e.U8(m.Version)

	ids := m.Registry.IDs()
	e.CompactUint(uint64(len(ids)))
	for _, id := range ids {
		t, _ := m.Registry.Lookup(id)
		writeType(e, t)
	}

	e.CompactUint(uint64(len(m.Pallets)))
	for i := range m.Pallets {
		writePallet(e, &m.Pallets[i], m.Version)
	}

	if m.Version == 14 {
		e.CompactUint(uint64(m.Extrinsic.Type))
		e.U8(m.Extrinsic.Version)
		writeSignedExtensions(e, m.Extrinsic.SignedExtensions)
		e.CompactUint(uint64(m.RuntimeType))
		return e.Bytes()
	}

	e.U8(m.Extrinsic.Version)
	e.CompactUint(uint64(m.Extrinsic.AddressType))
	e.CompactUint(uint64(m.Extrinsic.CallType))
	e.CompactUint(uint64(m.Extrinsic.SignatureType))
	e.CompactUint(uint64(m.Extrinsic.ExtraType))
	writeSignedExtensions(e, m.Extrinsic.SignedExtensions)
	e.CompactUint(uint64(m.RuntimeType))

	e.CompactUint(uint64(len(m.APIs)))
	for _, api := range m.APIs {
		e.Str(api.Name)
		e.CompactUint(uint64(len(api.Methods)))
		for _, method := range api.Methods {
			e.Str(method.Name)
			e.CompactUint(uint64(len(method.Inputs)))
			for _, in := range method.Inputs {
				e.Str(in.Name)
				e.CompactUint(uint64(in.Type))
			}
			e.CompactUint(uint64(method.Output))
			writeStrings(e, method.Docs)
		}
		writeStrings(e, api.Docs)
	}

	e.CompactUint(uint64(m.OuterEnums.Call))
	e.CompactUint(uint64(m.OuterEnums.Event))
	e.CompactUint(uint64(m.OuterEnums.Error))

	e.CompactUint(uint64(len(m.Custom)))
	for _, c := range m.Custom {
		e.Str(c.Name)
		e.CompactUint(uint64(c.Type))
		e.ByteSlice(c.Value)
	}
	return e.Bytes()
}

func writeStrings(e *scale.Encoder, ss []string) {
	e.CompactUint(uint64(len(ss)))
	for _, s := range ss {
		e.Str(s)
	}
}

func writeOptString(e *scale.Encoder, s string) {
	if s == "" {
		e.U8(0)
		return
	}
	e.U8(1)
	e.Str(s)
}

func writeOptType(e *scale.Encoder, id *uint32) {
	if id == nil {
		e.U8(0)
		return
	}
	e.U8(1)
	e.CompactUint(uint64(*id))
}

func writeFields(e *scale.Encoder, fields []Field) {
	e.CompactUint(uint64(len(fields)))
	for _, f := range fields {
		writeOptString(e, f.Name)
		e.CompactUint(uint64(f.Type))
		writeOptString(e, f.TypeName)
		writeStrings(e, f.Docs)
	}
}

func writeType(e *scale.Encoder, t *Type) {
	e.CompactUint(uint64(t.ID))
	writeStrings(e, t.Path)
	e.CompactUint(uint64(len(t.Params)))
	for _, p := range t.Params {
		e.Str(p.Name)
		writeOptType(e, p.Type)
	}

	def := t.Def
	e.U8(uint8(def.Kind))
	switch def.Kind {
	case KindComposite:
		writeFields(e, def.Fields)
	case KindVariant:
		e.CompactUint(uint64(len(def.Variants)))
		for _, v := range def.Variants {
			e.Str(v.Name)
			writeFields(e, v.Fields)
			e.U8(v.Index)
			writeStrings(e, v.Docs)
		}
	case KindSequence, KindCompact:
		e.CompactUint(uint64(def.Elem))
	case KindArray:
		e.U32(def.Len)
		e.CompactUint(uint64(def.Elem))
	case KindTuple:
		e.CompactUint(uint64(len(def.Tuple)))
		for _, id := range def.Tuple {
			e.CompactUint(uint64(id))
		}
	case KindPrimitive:
		e.U8(uint8(def.Primitive))
	case KindBitSequence:
		e.CompactUint(uint64(def.BitStore))
		e.CompactUint(uint64(def.BitOrder))
	}
	writeStrings(e, t.Docs)
}

func writePallet(e *scale.Encoder, p *Pallet, version uint8) {
	e.Str(p.Name)
	if p.Storage == nil {
		e.U8(0)
	} else {
		e.U8(1)
		e.Str(p.Storage.Prefix)
		e.CompactUint(uint64(len(p.Storage.Entries)))
		for _, entry := range p.Storage.Entries {
			e.Str(entry.Name)
			e.U8(uint8(entry.Modifier))
			if entry.Plain {
				e.U8(0)
				e.CompactUint(uint64(entry.Value))
			} else {
				e.U8(1)
				e.CompactUint(uint64(len(entry.Hashers)))
				for _, h := range entry.Hashers {
					e.U8(uint8(h))
				}
				e.CompactUint(uint64(entry.Key))
				e.CompactUint(uint64(entry.Value))
			}
			e.ByteSlice(entry.Default)
			writeStrings(e, entry.Docs)
		}
	}
	writeOptType(e, p.Calls)
	writeOptType(e, p.Event)
	e.CompactUint(uint64(len(p.Constants)))
	for _, c := range p.Constants {
		e.Str(c.Name)
		e.CompactUint(uint64(c.Type))
		e.ByteSlice(c.Value)
		writeStrings(e, c.Docs)
	}
	writeOptType(e, p.Error)
	e.U8(p.Index)
	if version >= 15 {
		writeStrings(e, p.Docs)
	}
}

func writeSignedExtensions(e *scale.Encoder, exts []SignedExtension) {
	e.CompactUint(uint64(len(exts)))
	for _, x := range exts {
		e.Str(x.Identifier)
		e.CompactUint(uint64(x.Type))
		e.CompactUint(uint64(x.AdditionalSigned))
	}
}
