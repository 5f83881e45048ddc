// Package storage addresses and decodes state-query chain storage, encodes
// runtime calls and builds extrinsics, all driven by a chain's metadata.
package storage

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/scale"
	"github.com/vietddude/chainwallet/internal/codec/shape"
	"github.com/vietddude/chainwallet/internal/core/domain"
)

// Builder is the typed registry of one chain runtime version.
type Builder struct {
	meta   *metadata.Metadata
	shapes *shape.Deriver
}

// NewBuilder creates a builder over decoded metadata.
func NewBuilder(meta *metadata.Metadata) *Builder {
	return &Builder{meta: meta, shapes: shape.NewDeriver(meta.Registry)}
}

// FromBytes decodes raw metadata and creates a builder over it.
func FromBytes(raw []byte) (*Builder, error) {
	meta, err := metadata.Decode(raw)
	if err != nil {
		return nil, err
	}
	return NewBuilder(meta), nil
}

func (b *Builder) Metadata() *metadata.Metadata { return b.meta }

func (b *Builder) Shapes() *shape.Deriver { return b.shapes }

// Shape returns the shape of a registry type.
func (b *Builder) Shape(id uint32) (shape.Shape, error) {
	return b.shapes.Shape(id)
}

// Constant decodes a pallet constant.
func (b *Builder) Constant(pallet, name string) (any, error) {
	c, ok := b.meta.Constant(pallet, name)
	if !ok {
		return nil, fmt.Errorf("constant %s.%s: %w", pallet, name, domain.ErrNotFound)
	}
	s, err := b.shapes.Shape(c.Type)
	if err != nil {
		return nil, err
	}
	return decodeAll(s, c.Value, pallet+"."+name)
}

// Query addresses one storage item.
type Query struct {
	Pallet string
	Item   string

	entry  *metadata.StorageEntry
	prefix []byte
	keys   []shape.Shape
	value  shape.Shape
}

// Storage returns the query for pallet.item.
func (b *Builder) Storage(pallet, item string) (*Query, error) {
	p, entry, ok := b.meta.StorageEntry(pallet, item)
	if !ok {
		return nil, fmt.Errorf("storage %s.%s: %w", pallet, item, domain.ErrNotFound)
	}
	value, err := b.shapes.Shape(entry.Value)
	if err != nil {
		return nil, fmt.Errorf("storage %s.%s value: %w", pallet, item, err)
	}

	q := &Query{
		Pallet: pallet,
		Item:   item,
		entry:  entry,
		prefix: Prefix(p.Storage.Prefix, entry.Name),
		value:  value,
	}
	if entry.Plain {
		return q, nil
	}

	keyTypes := []uint32{entry.Key}
	if len(entry.Hashers) > 1 {
		t, ok := b.meta.Registry.Lookup(entry.Key)
		if !ok || t.Def.Kind != metadata.KindTuple || len(t.Def.Tuple) != len(entry.Hashers) {
			return nil, fmt.Errorf("storage %s.%s: key type does not match %d hashers", pallet, item, len(entry.Hashers))
		}
		keyTypes = t.Def.Tuple
	}
	for _, id := range keyTypes {
		s, err := b.shapes.Shape(id)
		if err != nil {
			return nil, fmt.Errorf("storage %s.%s key: %w", pallet, item, err)
		}
		q.keys = append(q.keys, s)
	}
	return q, nil
}

// KeyCount returns how many key arguments address a single value.
func (q *Query) KeyCount() int {
	return len(q.keys)
}

// Key returns the 0x-hex storage key for args. Fewer args than KeyCount
// yield a prefix usable for key enumeration.
func (q *Query) Key(args ...any) (string, error) {
	if len(args) > len(q.keys) {
		return "", fmt.Errorf("storage %s.%s: expected at most %d key args, got %d", q.Pallet, q.Item, len(q.keys), len(args))
	}
	key := append([]byte{}, q.prefix...)
	for i, arg := range args {
		enc := scale.NewEncoder()
		if err := q.keys[i].Encode(enc, arg); err != nil {
			return "", fmt.Errorf("storage %s.%s key %d: %w", q.Pallet, q.Item, i, err)
		}
		hashed, err := Hash(q.entry.Hashers[i], enc.Bytes())
		if err != nil {
			return "", err
		}
		key = append(key, hashed...)
	}
	return "0x" + hex.EncodeToString(key), nil
}

// Decode decodes a 0x-hex storage value. An empty string means the key is
// absent: default entries decode their metadata default and optional
// entries return nil.
func (q *Query) Decode(value string) (any, error) {
	if value == "" {
		return q.DecodeBytes(nil, false)
	}
	raw, err := FromHex(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", domain.ErrDecode, q.Pallet, q.Item, err)
	}
	return q.DecodeBytes(raw, true)
}

// Encode encodes v as a value of the item, in 0x-hex.
func (q *Query) Encode(v any) (string, error) {
	enc := scale.NewEncoder()
	if err := q.value.Encode(enc, v); err != nil {
		return "", fmt.Errorf("storage %s.%s value: %w", q.Pallet, q.Item, err)
	}
	return ToHex(enc.Bytes()), nil
}

// DecodeBytes decodes a raw storage value. present is false for absent keys.
func (q *Query) DecodeBytes(raw []byte, present bool) (any, error) {
	if !present {
		if q.entry.Modifier == metadata.ModifierOptional {
			return nil, nil
		}
		raw = q.entry.Default
	}
	return decodeAll(q.value, raw, q.Pallet+"."+q.Item)
}

func decodeAll(s shape.Shape, raw []byte, what string) (any, error) {
	d := scale.NewDecoder(raw)
	v, err := s.Decode(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDecode, what, err)
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %s: %d trailing bytes", domain.ErrDecode, what, d.Remaining())
	}
	return v, nil
}

// FromHex decodes a 0x-prefixed (or bare) hex string.
func FromHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

// ToHex encodes b as 0x-prefixed hex.
func ToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
