package storage

import (
	"bytes"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/scale"
	"github.com/vietddude/chainwallet/internal/codec/shape"
	"github.com/vietddude/chainwallet/internal/core/domain"
)

const (
	extrinsicVersion = 4
	signedBit        = 0x80
)

// SignatureScheme names the MultiSignature arm used for a signature.
type SignatureScheme string

const (
	SchemeEd25519 SignatureScheme = "Ed25519"
	SchemeSr25519 SignatureScheme = "Sr25519"
	SchemeEcdsa   SignatureScheme = "Ecdsa"
)

// TxParams carries the values signed extensions need.
type TxParams struct {
	SpecVersion uint32
	TxVersion   uint32
	GenesisHash []byte
	// BlockHash anchors a mortal era. It is ignored for immortal transactions.
	BlockHash []byte
	Nonce     uint32
	Tip       *big.Int
	// Era is the encoded era; nil means immortal.
	Era []byte
}

// UnsignedTx is a call with its signed-extension data, ready to be signed.
type UnsignedTx struct {
	b          *Builder
	Call       []byte
	Extra      []byte
	Additional []byte
}

// NewTx prepares call for signing.
func (b *Builder) NewTx(call []byte, p TxParams) (*UnsignedTx, error) {
	extra := scale.NewEncoder()
	additional := scale.NewEncoder()
	for _, ext := range b.meta.Extrinsic.SignedExtensions {
		if err := b.writeExtension(ext, p, extra, additional); err != nil {
			return nil, fmt.Errorf("%w: signed extension %s: %v", domain.ErrConstruction, ext.Identifier, err)
		}
	}
	return &UnsignedTx{b: b, Call: call, Extra: extra.Bytes(), Additional: additional.Bytes()}, nil
}

func (b *Builder) writeExtension(ext metadata.SignedExtension, p TxParams, extra, additional *scale.Encoder) error {
	var value, signed any
	switch ext.Identifier {
	case "CheckSpecVersion":
		signed = p.SpecVersion
	case "CheckTxVersion":
		signed = p.TxVersion
	case "CheckGenesis":
		signed = p.GenesisHash
	case "CheckMortality", "CheckEra":
		era := p.Era
		anchor := p.BlockHash
		if len(era) == 0 {
			era, anchor = []byte{0}, p.GenesisHash
		}
		// The era is written raw; its enum has up to 256 arms.
		extra.Write(era)
		return b.encodeValue(ext.AdditionalSigned, anchor, additional)
	case "CheckNonce":
		value = p.Nonce
	case "ChargeTransactionPayment":
		value = tipOf(p)
	case "ChargeAssetTxPayment":
		value = map[string]any{"tip": tipOf(p), "assetId": nil}
	case "CheckMetadataHash":
		value = map[string]any{"mode": shape.Enum{Tag: "Disabled"}}
	}
	if err := b.encodeValue(ext.Type, value, extra); err != nil {
		return err
	}
	return b.encodeValue(ext.AdditionalSigned, signed, additional)
}

func tipOf(p TxParams) *big.Int {
	if p.Tip == nil {
		return new(big.Int)
	}
	return p.Tip
}

func (b *Builder) encodeValue(id uint32, v any, e *scale.Encoder) error {
	s, err := b.shapes.Shape(id)
	if err != nil {
		return err
	}
	return s.Encode(e, v)
}

// Payload returns the bytes a signer signs. Payloads longer than 256 bytes
// are replaced by their blake2b-256 hash.
func (u *UnsignedTx) Payload() []byte {
	payload := bytes.Join([][]byte{u.Call, u.Extra, u.Additional}, nil)
	if len(payload) > 256 {
		return Blake2(payload, 32)
	}
	return payload
}

// Signed returns the length-prefixed wire form of the transaction signed by
// pub with sig.
func (u *UnsignedTx) Signed(pub, sig []byte, scheme SignatureScheme) ([]byte, error) {
	body := scale.NewEncoder()
	body.U8(signedBit | extrinsicVersion)
	if err := u.b.encodeAddress(body, pub); err != nil {
		return nil, fmt.Errorf("%w: address: %v", domain.ErrConstruction, err)
	}
	if err := u.b.encodeSignature(body, sig, scheme); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", domain.ErrConstruction, err)
	}
	body.Write(u.Extra)
	body.Write(u.Call)
	return withLength(body.Bytes()), nil
}

// FakeSigned signs with a placeholder signature. The result has the size of
// a real transaction and is only useful for fee estimation.
func (u *UnsignedTx) FakeSigned(pub []byte) ([]byte, error) {
	return u.Signed(pub, bytes.Repeat([]byte{1}, 64), SchemeSr25519)
}

// Unsigned returns the length-prefixed wire form of an unsigned call.
func Unsigned(call []byte) []byte {
	return withLength(append([]byte{extrinsicVersion}, call...))
}

func withLength(body []byte) []byte {
	e := scale.NewEncoder()
	e.CompactUint(uint64(len(body)))
	e.Write(body)
	return e.Bytes()
}

func (b *Builder) encodeAddress(e *scale.Encoder, pub []byte) error {
	id := b.meta.Extrinsic.AddressType
	t, ok := b.meta.Registry.Lookup(id)
	if ok && t.Def.Kind == metadata.KindVariant {
		return b.encodeValue(id, shape.Enum{Tag: "Id", Value: pub}, e)
	}
	return b.encodeValue(id, pub, e)
}

func (b *Builder) encodeSignature(e *scale.Encoder, sig []byte, scheme SignatureScheme) error {
	id := b.meta.Extrinsic.SignatureType
	t, ok := b.meta.Registry.Lookup(id)
	if ok && t.Def.Kind == metadata.KindVariant {
		return b.encodeValue(id, shape.Enum{Tag: string(scheme), Value: sig}, e)
	}
	return b.encodeValue(id, sig, e)
}

// MortalEra encodes an era valid for period blocks starting at current.
// period is rounded up to a power of two within [4, 65536].
func MortalEra(period, current uint64) []byte {
	if period < 4 {
		period = 4
	}
	if period > 1<<16 {
		period = 1 << 16
	}
	if period&(period-1) != 0 {
		period = 1 << bits.Len64(period)
	}
	phase := current % period
	quantize := period >> 12
	if quantize < 1 {
		quantize = 1
	}
	quantized := phase / quantize * quantize

	low := uint64(bits.TrailingZeros64(period)) - 1
	if low < 1 {
		low = 1
	}
	if low > 15 {
		low = 15
	}
	encoded := uint16(low) | uint16(quantized/quantize)<<4
	return []byte{byte(encoded), byte(encoded >> 8)}
}
