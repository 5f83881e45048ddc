package metadata

import "slices"

// Selection names the parts of one pallet that survive minimization.
type Selection struct {
	Pallet    string
	Items     []string
	Calls     bool
	Constants []string
}

// Keep lists everything a consumer needs from the full metadata.
type Keep struct {
	Pallets   []Selection
	APIs      []string
	Extrinsic bool
}

// Minimize returns a copy of m holding only the selected pallets, storage
// items, calls, constants and runtime APIs plus the types reachable from
// them. Type ids are preserved so shapes derived from the minimized copy
// are identical to shapes derived from the original. Docs are dropped.
func Minimize(m *Metadata, keep Keep) *Metadata {
	out := &Metadata{
		Version:     m.Version,
		RuntimeType: m.RuntimeType,
		OuterEnums:  m.OuterEnums,
	}
	w := &walker{src: m.Registry, seen: make(map[uint32]bool)}

	for _, sel := range keep.Pallets {
		p, ok := m.Pallet(sel.Pallet)
		if !ok {
			continue
		}
		np := Pallet{Name: p.Name, Index: p.Index}
		if p.Storage != nil && len(sel.Items) > 0 {
			np.Storage = &PalletStorage{Prefix: p.Storage.Prefix}
			for _, item := range sel.Items {
				for _, entry := range p.Storage.Entries {
					if entry.Name != item {
						continue
					}
					entry.Docs = nil
					if !entry.Plain {
						w.visit(entry.Key)
					}
					w.visit(entry.Value)
					np.Storage.Entries = append(np.Storage.Entries, entry)
				}
			}
		}
		if sel.Calls && p.Calls != nil {
			id := *p.Calls
			np.Calls = &id
			w.visit(id)
		}
		for _, name := range sel.Constants {
			for _, c := range p.Constants {
				if c.Name == name {
					c.Docs = nil
					w.visit(c.Type)
					np.Constants = append(np.Constants, c)
				}
			}
		}
		out.Pallets = append(out.Pallets, np)
	}

	out.Extrinsic = Extrinsic{
		Version:       m.Extrinsic.Version,
		Type:          m.Extrinsic.Type,
		AddressType:   m.Extrinsic.AddressType,
		CallType:      m.Extrinsic.CallType,
		SignatureType: m.Extrinsic.SignatureType,
		ExtraType:     m.Extrinsic.ExtraType,
	}
	if keep.Extrinsic {
		out.Extrinsic.SignedExtensions = append([]SignedExtension(nil), m.Extrinsic.SignedExtensions...)
		if m.Version == 14 {
			w.visit(m.Extrinsic.Type)
		}
		w.visit(m.Extrinsic.AddressType)
		w.visit(m.Extrinsic.SignatureType)
		for _, x := range m.Extrinsic.SignedExtensions {
			w.visit(x.Type)
			w.visit(x.AdditionalSigned)
		}
	}

	for _, name := range keep.APIs {
		for _, api := range m.APIs {
			if api.Name != name {
				continue
			}
			na := RuntimeAPI{Name: api.Name}
			for _, method := range api.Methods {
				for _, in := range method.Inputs {
					w.visit(in.Type)
				}
				w.visit(method.Output)
				method.Docs = nil
				na.Methods = append(na.Methods, method)
			}
			out.APIs = append(out.APIs, na)
		}
	}

	out.Registry = NewRegistry(w.kept...)
	return out
}

type walker struct {
	src  *Registry
	seen map[uint32]bool
	kept []*Type
}

// visit keeps a type and its definition children. Generic parameters are not
// followed, so the v14 extrinsic type does not drag in the full call enum.
func (w *walker) visit(id uint32) {
	if w.seen[id] {
		return
	}
	w.seen[id] = true
	t, ok := w.src.Lookup(id)
	if !ok {
		return
	}
	w.kept = append(w.kept, stripDocs(t))

	def := t.Def
	for _, f := range def.Fields {
		w.visit(f.Type)
	}
	for _, v := range def.Variants {
		for _, f := range v.Fields {
			w.visit(f.Type)
		}
	}
	switch def.Kind {
	case KindSequence, KindArray, KindCompact:
		w.visit(def.Elem)
	case KindTuple:
		for _, id := range def.Tuple {
			w.visit(id)
		}
	case KindBitSequence:
		w.visit(def.BitStore)
		w.visit(def.BitOrder)
	}
}

func stripDocs(t *Type) *Type {
	c := *t
	c.Docs = nil
	c.Def.Fields = stripFieldDocs(t.Def.Fields)
	if len(t.Def.Variants) > 0 {
		c.Def.Variants = make([]Variant, len(t.Def.Variants))
		for i, v := range t.Def.Variants {
			c.Def.Variants[i] = Variant{Name: v.Name, Index: v.Index, Fields: stripFieldDocs(v.Fields)}
		}
	}
	return &c
}

func stripFieldDocs(fields []Field) []Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Name: f.Name, Type: f.Type, TypeName: f.TypeName}
	}
	return out
}

// MergeSelections unions selections of the same pallet, keeping the order in
// which pallets first appear.
func MergeSelections(groups ...[]Selection) []Selection {
	var out []Selection
	index := make(map[string]int)
	for _, g := range groups {
		for _, sel := range g {
			i, ok := index[sel.Pallet]
			if !ok {
				index[sel.Pallet] = len(out)
				out = append(out, Selection{Pallet: sel.Pallet})
				i = len(out) - 1
			}
			m := &out[i]
			m.Items = appendMissing(m.Items, sel.Items...)
			m.Constants = appendMissing(m.Constants, sel.Constants...)
			m.Calls = m.Calls || sel.Calls
		}
	}
	return out
}

func appendMissing(dst []string, names ...string) []string {
	for _, n := range names {
		if !slices.Contains(dst, n) {
			dst = append(dst, n)
		}
	}
	return dst
}
