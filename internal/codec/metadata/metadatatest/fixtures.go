package metadatatest

import (
	"math/big"
	"strconv"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
)

// Pallet indices used by the fixtures.
const (
	SystemIndex      = 0
	BalancesIndex    = 5
	EqBalancesIndex  = 6
	TokensIndex      = 10
	ExistentialUnits = 10_000_000_000
)

// Equilibrium asset ids (ascii of the lowercase symbol).
const (
	AssetEQ  = 25969
	AssetETH = 6648936
	AssetDOT = 6582132
)

type common struct {
	u8, u32, u64, u128, boolean  uint32
	accountID, multiAddress, sig uint32
	compactU128, compactU32      uint32
	h256, bytes                  uint32
}

func buildCommon(b *Builder) common {
	c := common{
		u8:      b.Prim(metadata.PrimU8),
		u32:     b.Prim(metadata.PrimU32),
		u64:     b.Prim(metadata.PrimU64),
		u128:    b.Prim(metadata.PrimU128),
		boolean: b.Prim(metadata.PrimBool),
	}
	a32 := b.Array(32, c.u8)
	c.accountID = b.Struct([]string{"sp_core", "crypto", "AccountId32"}, F("", a32))
	c.h256 = b.Struct([]string{"primitive_types", "H256"}, F("", a32))
	c.bytes = b.Seq(c.u8)
	c.compactU128 = b.Compact(c.u128)
	c.compactU32 = b.Compact(c.u32)

	unit := b.Tuple()
	c.multiAddress = b.Enum([]string{"sp_runtime", "multiaddress", "MultiAddress"},
		V("Id", 0, F("", c.accountID)),
		V("Index", 1, F("", b.Compact(unit))),
		V("Raw", 2, F("", c.bytes)),
		V("Address32", 3, F("", a32)),
		V("Address20", 4, F("", b.Array(20, c.u8))),
	)

	a64 := b.Array(64, c.u8)
	c.sig = b.Enum([]string{"sp_runtime", "MultiSignature"},
		V("Ed25519", 0, F("", b.Struct([]string{"sp_core", "ed25519", "Signature"}, F("", a64)))),
		V("Sr25519", 1, F("", b.Struct([]string{"sp_core", "sr25519", "Signature"}, F("", a64)))),
		V("Ecdsa", 2, F("", b.Struct([]string{"sp_core", "ecdsa", "Signature"}, F("", b.Array(65, c.u8))))),
	)
	return c
}

func balancesCalls(b *Builder, c common) uint32 {
	return b.Enum([]string{"pallet_balances", "pallet", "Call"},
		V("transfer_allow_death", 0, F("dest", c.multiAddress), F("value", c.compactU128)),
		V("transfer_keep_alive", 3, F("dest", c.multiAddress), F("value", c.compactU128)),
		V("transfer_all", 4, F("dest", c.multiAddress), F("keep_alive", c.boolean)),
	)
}

func signedExtensions(b *Builder, c common) ([]metadata.SignedExtension, uint32) {
	empty := func(name string) uint32 {
		return b.Struct([]string{"frame_system", "extensions", name})
	}
	variants := []metadata.Variant{V("Immortal", 0)}
	for i := 1; i < 256; i++ {
		variants = append(variants, V("Mortal"+strconv.Itoa(i), uint8(i), F("", c.u8)))
	}
	era := b.Enum([]string{"sp_runtime", "generic", "era", "Era"}, variants...)
	unit := b.Tuple()

	exts := []metadata.SignedExtension{
		{Identifier: "CheckNonZeroSender", Type: empty("CheckNonZeroSender"), AdditionalSigned: unit},
		{Identifier: "CheckSpecVersion", Type: empty("CheckSpecVersion"), AdditionalSigned: c.u32},
		{Identifier: "CheckTxVersion", Type: empty("CheckTxVersion"), AdditionalSigned: c.u32},
		{Identifier: "CheckGenesis", Type: empty("CheckGenesis"), AdditionalSigned: c.h256},
		{Identifier: "CheckMortality", Type: b.Struct([]string{"frame_system", "extensions", "CheckMortality"}, F("", era)), AdditionalSigned: c.h256},
		{Identifier: "CheckNonce", Type: b.Struct([]string{"frame_system", "extensions", "CheckNonce"}, F("", c.compactU32)), AdditionalSigned: unit},
		{Identifier: "CheckWeight", Type: empty("CheckWeight"), AdditionalSigned: unit},
		{Identifier: "ChargeTransactionPayment", Type: b.Struct([]string{"pallet_transaction_payment", "ChargeTransactionPayment"}, F("", c.compactU128)), AdditionalSigned: unit},
	}
	ids := make([]uint32, len(exts))
	for i, x := range exts {
		ids[i] = x.Type
	}
	return exts, b.Tuple(ids...)
}

func extrinsic(b *Builder, c common, version uint8, call uint32) metadata.Extrinsic {
	exts, extra := signedExtensions(b, c)
	x := metadata.Extrinsic{
		Version:          4,
		AddressType:      c.multiAddress,
		CallType:         call,
		SignatureType:    c.sig,
		ExtraType:        extra,
		SignedExtensions: exts,
	}
	if version == 14 {
		x.Type = b.Add([]string{"sp_runtime", "generic", "unchecked_extrinsic", "UncheckedExtrinsic"},
			metadata.TypeDef{Kind: metadata.KindComposite, Fields: []metadata.Field{F("", c.bytes)}},
			metadata.TypeParam{Name: "Address", Type: ptr(c.multiAddress)},
			metadata.TypeParam{Name: "Call", Type: ptr(call)},
			metadata.TypeParam{Name: "Signature", Type: ptr(c.sig)},
			metadata.TypeParam{Name: "Extra", Type: ptr(extra)},
		)
	}
	return x
}

func paymentAPI(b *Builder, c common) metadata.RuntimeAPI {
	weight := b.Struct([]string{"sp_weights", "weight_v2", "Weight"},
		F("ref_time", b.Compact(c.u64)),
		F("proof_size", b.Compact(c.u64)),
	)
	class := b.Enum([]string{"frame_support", "dispatch", "DispatchClass"},
		V("Normal", 0), V("Operational", 1), V("Mandatory", 2),
	)
	info := b.Struct([]string{"pallet_transaction_payment", "types", "RuntimeDispatchInfo"},
		F("weight", weight), F("class", class), F("partial_fee", c.u128),
	)
	return metadata.RuntimeAPI{
		Name: "TransactionPaymentApi",
		Methods: []metadata.APIMethod{{
			Name:   "query_info",
			Inputs: []metadata.APIParam{{Name: "uxt", Type: c.bytes}, {Name: "len", Type: c.u32}},
			Output: info,
		}},
	}
}

func accountInfo(b *Builder, c common, data uint32) uint32 {
	return b.Struct([]string{"frame_system", "AccountInfo"},
		F("nonce", c.u32), F("consumers", c.u32), F("providers", c.u32), F("sufficients", c.u32),
		F("data", data),
	)
}

func accountStorage(c common, value uint32, def []byte) metadata.StorageEntry {
	return metadata.StorageEntry{
		Name:     "Account",
		Modifier: metadata.ModifierDefault,
		Hashers:  []metadata.Hasher{metadata.HasherBlake2_128Concat},
		Key:      c.accountID,
		Value:    value,
		Default:  def,
	}
}

// Native returns metadata of a chain whose balances pallet uses the legacy
// account layout (free, reserved, misc_frozen, fee_frozen).
func Native(version uint8) *metadata.Metadata {
	b := NewBuilder()
	c := buildCommon(b)

	data := b.Struct([]string{"pallet_balances", "AccountData"},
		F("free", c.u128), F("reserved", c.u128), F("misc_frozen", c.u128), F("fee_frozen", c.u128),
	)
	info := accountInfo(b, c, data)
	calls := balancesCalls(b, c)
	runtimeCall := b.Enum([]string{"node_runtime", "RuntimeCall"}, V("Balances", BalancesIndex, F("", calls)))

	m := &metadata.Metadata{
		Version: version,
		Pallets: []metadata.Pallet{
			{
				Name:    "System",
				Index:   SystemIndex,
				Storage: &metadata.PalletStorage{Prefix: "System", Entries: []metadata.StorageEntry{accountStorage(c, info, make([]byte, 80))}},
			},
			{
				Name:  "Balances",
				Index: BalancesIndex,
				Calls: ptr(calls),
				Constants: []metadata.Constant{
					{Name: "ExistentialDeposit", Type: c.u128, Value: u128LE(ExistentialUnits)},
				},
			},
		},
	}
	m.Extrinsic = extrinsic(b, c, version, runtimeCall)
	if version >= 15 {
		m.APIs = []metadata.RuntimeAPI{paymentAPI(b, c)}
		m.OuterEnums = metadata.OuterEnums{Call: runtimeCall, Event: runtimeCall, Error: runtimeCall}
	}
	m.Registry = b.Registry()
	return m
}

// Tokens returns metadata of a chain with the current account layout
// (free, reserved, frozen, flags) and a fungible tokens pallet keyed by
// (account, currency id).
func Tokens() *metadata.Metadata {
	b := NewBuilder()
	c := buildCommon(b)

	data := b.Struct([]string{"pallet_balances", "types", "AccountData"},
		F("free", c.u128), F("reserved", c.u128), F("frozen", c.u128), F("flags", c.u128),
	)
	info := accountInfo(b, c, data)

	symbol := b.Enum([]string{"acala_primitives", "currency", "TokenSymbol"},
		V("ACA", 0), V("AUSD", 1), V("DOT", 2),
	)
	currency := b.Enum([]string{"acala_primitives", "currency", "CurrencyId"},
		V("Token", 0, F("", symbol)),
		V("ForeignAsset", 5, F("", b.Prim(metadata.PrimU16))),
	)
	ormlData := b.Struct([]string{"orml_tokens", "AccountData"},
		F("free", c.u128), F("reserved", c.u128), F("frozen", c.u128),
	)
	tokensCalls := b.Enum([]string{"orml_tokens", "module", "Call"},
		V("transfer", 0, F("dest", c.multiAddress), F("currency_id", currency), F("amount", c.compactU128)),
	)
	balances := balancesCalls(b, c)
	runtimeCall := b.Enum([]string{"node_runtime", "RuntimeCall"},
		V("Balances", BalancesIndex, F("", balances)),
		V("Tokens", TokensIndex, F("", tokensCalls)),
	)

	m := &metadata.Metadata{
		Version: 15,
		Pallets: []metadata.Pallet{
			{
				Name:    "System",
				Index:   SystemIndex,
				Storage: &metadata.PalletStorage{Prefix: "System", Entries: []metadata.StorageEntry{accountStorage(c, info, make([]byte, 80))}},
			},
			{
				Name:  "Balances",
				Index: BalancesIndex,
				Calls: ptr(balances),
				Constants: []metadata.Constant{
					{Name: "ExistentialDeposit", Type: c.u128, Value: u128LE(ExistentialUnits)},
				},
			},
			{
				Name:  "Tokens",
				Index: TokensIndex,
				Calls: ptr(tokensCalls),
				Storage: &metadata.PalletStorage{Prefix: "Tokens", Entries: []metadata.StorageEntry{{
					Name:     "Accounts",
					Modifier: metadata.ModifierDefault,
					Hashers:  []metadata.Hasher{metadata.HasherBlake2_128Concat, metadata.HasherTwox64Concat},
					Key:      b.Tuple(c.accountID, currency),
					Value:    ormlData,
					Default:  make([]byte, 48),
				}}},
			},
		},
	}
	m.Extrinsic = extrinsic(b, c, 15, runtimeCall)
	m.APIs = []metadata.RuntimeAPI{paymentAPI(b, c)}
	m.OuterEnums = metadata.OuterEnums{Call: runtimeCall, Event: runtimeCall, Error: runtimeCall}
	m.Registry = b.Registry()
	return m
}

// Equilibrium returns v14 metadata of a chain whose System.Account holds a
// vector of (asset, signed balance) pairs.
func Equilibrium() *metadata.Metadata {
	b := NewBuilder()
	c := buildCommon(b)

	asset := b.Struct([]string{"eq_primitives", "asset", "Asset"}, F("", c.u64))
	signed := b.Enum([]string{"eq_primitives", "signed_balance", "SignedBalance"},
		V("Positive", 0, F("", c.u128)),
		V("Negative", 1, F("", c.u128)),
	)
	data := b.Enum([]string{"eq_primitives", "balance_number", "AccountData"},
		V("V0", 0, F("lock", c.u128), F("balance", b.Seq(b.Tuple(asset, signed)))),
	)
	info := accountInfo(b, c, data)
	calls := b.Enum([]string{"eq_balances", "pallet", "Call"},
		V("transfer", 0, F("asset", asset), F("to", c.accountID), F("value", c.u128)),
	)
	runtimeCall := b.Enum([]string{"eq_node_runtime", "RuntimeCall"}, V("EqBalances", EqBalancesIndex, F("", calls)))

	// 16 bytes of counters, variant V0, zero lock, empty vector.
	def := append(make([]byte, 16), 0)
	def = append(def, make([]byte, 16)...)
	def = append(def, 0)

	m := &metadata.Metadata{
		Version: 14,
		Pallets: []metadata.Pallet{
			{
				Name:    "System",
				Index:   SystemIndex,
				Storage: &metadata.PalletStorage{Prefix: "System", Entries: []metadata.StorageEntry{accountStorage(c, info, def)}},
			},
			{Name: "EqBalances", Index: EqBalancesIndex, Calls: ptr(calls)},
		},
	}
	m.Extrinsic = extrinsic(b, c, 14, runtimeCall)
	m.Registry = b.Registry()
	return m
}

func u128LE(v uint64) []byte {
	out := make([]byte, 16)
	n := new(big.Int).SetUint64(v).Bytes()
	for i := range n {
		out[i] = n[len(n)-1-i]
	}
	return out
}
