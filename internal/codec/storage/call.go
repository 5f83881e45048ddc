package storage

import (
	"fmt"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/scale"
	"github.com/vietddude/chainwallet/internal/codec/shape"
	"github.com/vietddude/chainwallet/internal/core/domain"
)

// HasCall reports whether pallet exposes a call with the given name.
func (b *Builder) HasCall(pallet, call string) bool {
	_, _, err := b.callVariant(pallet, call)
	return err == nil
}

func (b *Builder) callVariant(pallet, call string) (*metadata.Pallet, *metadata.Variant, error) {
	p, ok := b.meta.Pallet(pallet)
	if !ok || p.Calls == nil {
		return nil, nil, fmt.Errorf("%w: pallet %s has no calls", domain.ErrConstruction, pallet)
	}
	t, ok := b.meta.Registry.Lookup(*p.Calls)
	if !ok || t.Def.Kind != metadata.KindVariant {
		return nil, nil, fmt.Errorf("%w: pallet %s call type %d is not an enum", domain.ErrConstruction, pallet, *p.Calls)
	}
	for i := range t.Def.Variants {
		if t.Def.Variants[i].Name == call {
			return p, &t.Def.Variants[i], nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s.%s not found", domain.ErrConstruction, pallet, call)
}

// EncodeCall encodes pallet.call as pallet index ++ call index ++ args.
// Args are keyed by field name; both the wire name and its lowerCamel form
// are accepted.
func (b *Builder) EncodeCall(pallet, call string, args map[string]any) ([]byte, error) {
	p, v, err := b.callVariant(pallet, call)
	if err != nil {
		return nil, err
	}

	enc := scale.NewEncoder()
	enc.U8(p.Index)
	enc.U8(v.Index)
	for i, f := range v.Fields {
		s, err := b.shapes.Shape(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", domain.ErrConstruction, pallet, call, err)
		}
		arg, ok := args[f.Name]
		if !ok {
			arg, ok = args[shape.NormalizeName(f.Name)]
		}
		if !ok && f.Name == "" {
			arg, ok = args[fmt.Sprint(i)]
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s: missing argument %q", domain.ErrConstruction, pallet, call, f.Name)
		}
		if err := s.Encode(enc, arg); err != nil {
			return nil, fmt.Errorf("%w: %s.%s %s: %v", domain.ErrConstruction, pallet, call, f.Name, err)
		}
	}
	return enc.Bytes(), nil
}

// APICall returns the state_call method name and encoded arguments of a
// runtime API method.
func (b *Builder) APICall(api, method string, args ...any) (string, []byte, error) {
	m, ok := b.meta.APIMethod(api, method)
	if !ok {
		return "", nil, fmt.Errorf("runtime api %s.%s: %w", api, method, domain.ErrNotFound)
	}
	if len(args) != len(m.Inputs) {
		return "", nil, fmt.Errorf("runtime api %s.%s: expected %d args, got %d", api, method, len(m.Inputs), len(args))
	}
	enc := scale.NewEncoder()
	for i, in := range m.Inputs {
		s, err := b.shapes.Shape(in.Type)
		if err != nil {
			return "", nil, err
		}
		if err := s.Encode(enc, args[i]); err != nil {
			return "", nil, fmt.Errorf("runtime api %s.%s %s: %w", api, method, in.Name, err)
		}
	}
	return api + "_" + method, enc.Bytes(), nil
}

// DecodeAPIResult decodes the 0x-hex result of a runtime API call.
func (b *Builder) DecodeAPIResult(api, method, result string) (any, error) {
	m, ok := b.meta.APIMethod(api, method)
	if !ok {
		return nil, fmt.Errorf("runtime api %s.%s: %w", api, method, domain.ErrNotFound)
	}
	s, err := b.shapes.Shape(m.Output)
	if err != nil {
		return nil, err
	}
	raw, err := FromHex(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", domain.ErrDecode, api, method, err)
	}
	return decodeAll(s, raw, api+"."+method)
}
