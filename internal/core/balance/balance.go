// Package balance holds the immutable balance snapshot types.
//
// A Balance wraps the raw amounts a module fetched. Derived views
// (total, frozen, transferable, fee payable) are computed on first use and
// memoized; the instance never changes afterwards, so neither do they.
package balance

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainwallet/internal/core/domain"
)

// Status says where a snapshot came from.
type Status string

const (
	// StatusLive is a freshly fetched balance.
	StatusLive Status = "live"
	// StatusCache is a persisted balance served while live data is unavailable.
	StatusCache Status = "cache"
)

// Storage is the raw, serializable form of a balance. Amounts are decimal
// strings in the token's smallest unit. Empty amounts read as zero.
type Storage struct {
	Source       domain.Source       `json:"source" db:"source"`
	Status       Status              `json:"status" db:"status"`
	Address      string              `json:"address" db:"address"`
	ChainID      domain.ChainID      `json:"chainId,omitempty" db:"chain_id"`
	EvmNetworkID domain.EvmNetworkID `json:"evmNetworkId,omitempty" db:"evm_network_id"`
	TokenID      domain.TokenID      `json:"tokenId" db:"token_id"`

	Free     string `json:"free" db:"free"`
	Reserved string `json:"reserved,omitempty" db:"reserved"`
	// Frozen is the single frozen amount of the current account layout.
	Frozen string `json:"frozen,omitempty" db:"frozen"`
	// MiscFrozen and FeeFrozen are the legacy split of the frozen amount.
	MiscFrozen string `json:"miscFrozen,omitempty" db:"misc_frozen"`
	FeeFrozen  string `json:"feeFrozen,omitempty" db:"fee_frozen"`
}

// ID builds the stable balance id: source-address-chain-token.
func ID(source domain.Source, address, chainRef string, token domain.TokenID) string {
	return fmt.Sprintf("%s-%s-%s-%s", source, address, chainRef, token)
}

// ChainRef returns the chain or network id the balance lives on.
func (s Storage) ChainRef() string {
	if s.EvmNetworkID != "" {
		return string(s.EvmNetworkID)
	}
	return string(s.ChainID)
}

// ID returns the stable balance id.
func (s Storage) ID() string {
	return ID(s.Source, s.Address, s.ChainRef(), s.TokenID)
}

// Validate checks the raw fields: a known source, exactly one chain
// reference matching the source family, and non-negative integer amounts.
func (s Storage) Validate() error {
	if !s.Source.Valid() {
		return fmt.Errorf("balance %s: %w: unknown source %q", s.ID(), domain.ErrProtocolMismatch, s.Source)
	}
	switch s.Source.Family() {
	case domain.FamilyEVM:
		if s.EvmNetworkID == "" || s.ChainID != "" {
			return fmt.Errorf("balance %s: evm source needs only an evm network id", s.ID())
		}
	default:
		if s.ChainID == "" || s.EvmNetworkID != "" {
			return fmt.Errorf("balance %s: substrate source needs only a chain id", s.ID())
		}
	}
	for name, v := range map[string]string{
		"free": s.Free, "reserved": s.Reserved, "frozen": s.Frozen,
		"miscFrozen": s.MiscFrozen, "feeFrozen": s.FeeFrozen,
	} {
		if _, err := parsePlanck(v); err != nil {
			return fmt.Errorf("balance %s: %s: %w", s.ID(), name, err)
		}
	}
	return nil
}

func parsePlanck(v string) (*big.Int, error) {
	if v == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", v)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", v)
	}
	return n, nil
}

// mustPlanck reads an amount, treating malformed or negative values as zero.
func mustPlanck(v string) *big.Int {
	n, err := parsePlanck(v)
	if err != nil {
		return new(big.Int)
	}
	return n
}

// Field names a balance amount.
type Field string

const (
	FieldFree         Field = "free"
	FieldReserved     Field = "reserved"
	FieldFrozen       Field = "frozen"
	FieldTotal        Field = "total"
	FieldTransferable Field = "transferable"
	FieldFeePayable   Field = "feePayable"
)

// Fields lists every amount field.
var Fields = []Field{FieldTotal, FieldFree, FieldReserved, FieldFrozen, FieldTransferable, FieldFeePayable}

type derived struct {
	free, reserved, frozen, total, transferable, feePayable *big.Int
}

type fiatKey struct {
	field    Field
	currency string
}

// Balance is one (address, token) position on one chain.
type Balance struct {
	raw     Storage
	id      string
	hydrate *HydrationContext

	once    sync.Once
	amounts derived

	fiatMu sync.Mutex
	fiat   map[fiatKey]fiatValue
}

type fiatValue struct {
	value decimal.Decimal
	ok    bool
}

// New wraps raw. hydrate may be nil.
func New(raw Storage, hydrate *HydrationContext) *Balance {
	return &Balance{raw: raw, id: raw.ID(), hydrate: hydrate}
}

func (b *Balance) ID() string                        { return b.id }
func (b *Balance) Source() domain.Source             { return b.raw.Source }
func (b *Balance) Status() Status                    { return b.raw.Status }
func (b *Balance) Address() string                   { return b.raw.Address }
func (b *Balance) ChainID() domain.ChainID           { return b.raw.ChainID }
func (b *Balance) EvmNetworkID() domain.EvmNetworkID { return b.raw.EvmNetworkID }
func (b *Balance) TokenID() domain.TokenID           { return b.raw.TokenID }

// Storage returns a copy of the raw fields.
func (b *Balance) Storage() Storage { return b.raw }

// WithStatus returns a copy carrying status.
func (b *Balance) WithStatus(status Status) *Balance {
	raw := b.raw
	raw.Status = status
	return New(raw, b.hydrate)
}

// WithHydration returns a copy using ctx for display fields.
func (b *Balance) WithHydration(ctx *HydrationContext) *Balance {
	return New(b.raw, ctx)
}

// Token returns the hydrated token, if known.
func (b *Balance) Token() (domain.Token, bool) {
	if b.hydrate == nil {
		return domain.Token{}, false
	}
	return b.hydrate.Token(b.raw.TokenID)
}

// Decimals returns the token's decimals, if known.
func (b *Balance) Decimals() (int, bool) {
	t, ok := b.Token()
	if !ok {
		return 0, false
	}
	return t.Decimals, true
}

// Symbol returns the token's symbol, or "" when not hydrated.
func (b *Balance) Symbol() string {
	t, _ := b.Token()
	return t.Symbol
}

// compute derives every amount view once.
//
// Legacy native accounts carry misc and fee frozen amounts: frozen is their
// sum, transfers are limited by the misc part and fees by the fee part.
// Accounts with a single frozen amount use it for both. Only native
// substrate balances pay fees, so other sources are fee-payable in full.
func (b *Balance) compute() {
	b.once.Do(func() {
		free := mustPlanck(b.raw.Free)
		reserved := mustPlanck(b.raw.Reserved)
		frozen := mustPlanck(b.raw.Frozen)
		misc := mustPlanck(b.raw.MiscFrozen)
		fee := mustPlanck(b.raw.FeeFrozen)

		transferLock := frozen
		feeLock := frozen
		if b.raw.Frozen == "" && (b.raw.MiscFrozen != "" || b.raw.FeeFrozen != "") {
			transferLock = misc
			feeLock = fee
		}
		frozenTotal := new(big.Int).Add(frozen, new(big.Int).Add(misc, fee))

		feePayable := free
		if b.raw.Source == domain.SourceSubstrateNative {
			feePayable = clampSub(free, feeLock)
		}

		b.amounts = derived{
			free:         free,
			reserved:     reserved,
			frozen:       frozenTotal,
			total:        new(big.Int).Add(free, reserved),
			transferable: clampSub(free, transferLock),
			feePayable:   feePayable,
		}
	})
}

func clampSub(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

func (b *Balance) amount(field Field) Amount {
	b.compute()
	var v *big.Int
	switch field {
	case FieldFree:
		v = b.amounts.free
	case FieldReserved:
		v = b.amounts.reserved
	case FieldFrozen:
		v = b.amounts.frozen
	case FieldTotal:
		v = b.amounts.total
	case FieldTransferable:
		v = b.amounts.transferable
	case FieldFeePayable:
		v = b.amounts.feePayable
	default:
		v = new(big.Int)
	}
	return Amount{balance: b, field: field, planck: v}
}

func (b *Balance) Free() Amount         { return b.amount(FieldFree) }
func (b *Balance) Reserved() Amount     { return b.amount(FieldReserved) }
func (b *Balance) Frozen() Amount       { return b.amount(FieldFrozen) }
func (b *Balance) Total() Amount        { return b.amount(FieldTotal) }
func (b *Balance) Transferable() Amount { return b.amount(FieldTransferable) }
func (b *Balance) FeePayable() Amount   { return b.amount(FieldFeePayable) }

// Field returns the named amount.
func (b *Balance) Field(f Field) Amount { return b.amount(f) }

// IsZero reports whether the balance holds nothing.
func (b *Balance) IsZero() bool {
	b.compute()
	return b.amounts.total.Sign() == 0 && b.amounts.frozen.Sign() == 0
}

func (b *Balance) fiatOf(field Field, currency string, planck *big.Int) (decimal.Decimal, bool) {
	key := fiatKey{field: field, currency: currency}
	b.fiatMu.Lock()
	defer b.fiatMu.Unlock()
	if v, ok := b.fiat[key]; ok {
		return v.value, v.ok
	}

	var out fiatValue
	if t, ok := b.Token(); ok {
		if rate, ok := b.hydrate.Rate(t.ID, currency); ok {
			tokens := decimal.NewFromBigInt(planck, -int32(t.Decimals))
			out = fiatValue{value: tokens.Mul(rate), ok: true}
		}
	}
	if b.fiat == nil {
		b.fiat = make(map[fiatKey]fiatValue)
	}
	b.fiat[key] = out
	return out.value, out.ok
}
