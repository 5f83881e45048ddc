package balance

import (
	"reflect"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainwallet/internal/core/domain"
)

// Balances is an immutable, insertion-ordered collection keyed by balance
// id. Add and Remove return new collections and never touch the receiver.
type Balances struct {
	order []string
	byID  map[string]*Balance

	sumOnce sync.Once
	sum     *Sum
}

// NewBalances builds a collection. Later items replace earlier ones with the
// same id and keep the earlier position.
func NewBalances(items ...*Balance) *Balances {
	bs := &Balances{byID: make(map[string]*Balance, len(items))}
	for _, b := range items {
		bs.set(b)
	}
	return bs
}

// FromStorage wraps raw balances with a shared hydration context.
func FromStorage(raw []Storage, hydrate *HydrationContext) *Balances {
	items := make([]*Balance, len(raw))
	for i, r := range raw {
		items[i] = New(r, hydrate)
	}
	return NewBalances(items...)
}

func (bs *Balances) set(b *Balance) {
	if b == nil {
		return
	}
	if _, ok := bs.byID[b.ID()]; !ok {
		bs.order = append(bs.order, b.ID())
	}
	bs.byID[b.ID()] = b
}

func (bs *Balances) clone() *Balances {
	out := &Balances{
		order: append([]string(nil), bs.order...),
		byID:  make(map[string]*Balance, len(bs.byID)),
	}
	for id, b := range bs.byID {
		out.byID[id] = b
	}
	return out
}

// Add returns a collection with items upserted.
func (bs *Balances) Add(items ...*Balance) *Balances {
	out := bs.clone()
	for _, b := range items {
		out.set(b)
	}
	return out
}

// Merge returns a collection with every balance of other upserted.
func (bs *Balances) Merge(other *Balances) *Balances {
	if other == nil {
		return bs
	}
	return bs.Add(other.Each()...)
}

// WithHydration returns a collection whose balances use ctx for display
// fields.
func (bs *Balances) WithHydration(ctx *HydrationContext) *Balances {
	out := &Balances{
		order: append([]string(nil), bs.order...),
		byID:  make(map[string]*Balance, len(bs.byID)),
	}
	for id, b := range bs.byID {
		out.byID[id] = b.WithHydration(ctx)
	}
	return out
}

// Remove returns a collection without ids.
func (bs *Balances) Remove(ids ...string) *Balances {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := &Balances{byID: make(map[string]*Balance, len(bs.byID))}
	for _, id := range bs.order {
		if _, ok := drop[id]; ok {
			continue
		}
		out.order = append(out.order, id)
		out.byID[id] = bs.byID[id]
	}
	return out
}

// Get returns one balance by id.
func (bs *Balances) Get(id string) (*Balance, bool) {
	b, ok := bs.byID[id]
	return b, ok
}

// Filter selects balances. Empty fields match anything.
type Filter struct {
	ID           string
	Source       domain.Source
	Address      string
	ChainID      domain.ChainID
	EvmNetworkID domain.EvmNetworkID
	TokenID      domain.TokenID
}

func (f Filter) match(b *Balance) bool {
	return (f.ID == "" || f.ID == b.ID()) &&
		(f.Source == "" || f.Source == b.Source()) &&
		(f.Address == "" || f.Address == b.Address()) &&
		(f.ChainID == "" || f.ChainID == b.ChainID()) &&
		(f.EvmNetworkID == "" || f.EvmNetworkID == b.EvmNetworkID()) &&
		(f.TokenID == "" || f.TokenID == b.TokenID())
}

// Find returns the balances matching any of filters.
func (bs *Balances) Find(filters ...Filter) *Balances {
	out := &Balances{byID: make(map[string]*Balance)}
	for _, id := range bs.order {
		b := bs.byID[id]
		for _, f := range filters {
			if f.match(b) {
				out.set(b)
				break
			}
		}
	}
	return out
}

// Each returns the balances in insertion order.
func (bs *Balances) Each() []*Balance {
	out := make([]*Balance, len(bs.order))
	for i, id := range bs.order {
		out[i] = bs.byID[id]
	}
	return out
}

// IDs returns the ids in insertion order.
func (bs *Balances) IDs() []string {
	return append([]string(nil), bs.order...)
}

// Count is the number of balances.
func (bs *Balances) Count() int {
	return len(bs.order)
}

// Storage returns the raw form of every balance in order.
func (bs *Balances) Storage() []Storage {
	out := make([]Storage, len(bs.order))
	for i, id := range bs.order {
		out[i] = bs.byID[id].raw
	}
	return out
}

// IsZero reports whether every balance is zero. An empty collection is zero.
func (bs *Balances) IsZero() bool {
	for _, b := range bs.byID {
		if !b.IsZero() {
			return false
		}
	}
	return true
}

// Equal reports whether both collections hold the same raw balances, in any
// order.
func (bs *Balances) Equal(other *Balances) bool {
	if bs == nil || other == nil {
		return bs == other
	}
	if len(bs.byID) != len(other.byID) {
		return false
	}
	for id, b := range bs.byID {
		o, ok := other.byID[id]
		if !ok || !reflect.DeepEqual(b.raw, o.raw) {
			return false
		}
	}
	return true
}

// Sorted returns the balances ordered by chain display order, then symbol,
// then address.
func (bs *Balances) Sorted() []*Balance {
	out := bs.Each()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ai, bi := a.hydrate.sortIndex(a), b.hydrate.sortIndex(b)
		if ai != bi {
			return ai < bi
		}
		if a.Symbol() != b.Symbol() {
			return a.Symbol() < b.Symbol()
		}
		return a.Address() < b.Address()
	})
	return out
}

// Sum returns the aggregate view, computed once per collection.
func (bs *Balances) Sum() *Sum {
	bs.sumOnce.Do(func() {
		bs.sum = &Sum{items: bs.Each(), fiat: make(map[string]FiatTotals)}
	})
	return bs.sum
}

// FiatTotals are fiat sums of each amount field.
type FiatTotals map[Field]decimal.Decimal

// Sum aggregates fiat values across a collection.
type Sum struct {
	items []*Balance

	mu   sync.Mutex
	fiat map[string]FiatTotals
}

// Fiat totals every field in currency. Balances without a rate are skipped.
func (s *Sum) Fiat(currency string) FiatTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.fiat[currency]; ok {
		return t.copy()
	}

	totals := make(FiatTotals, len(Fields))
	for _, f := range Fields {
		totals[f] = decimal.Zero
	}
	for _, b := range s.items {
		for _, f := range Fields {
			if v, ok := b.Field(f).Fiat(currency); ok {
				totals[f] = totals[f].Add(v)
			}
		}
	}
	s.fiat[currency] = totals
	return totals.copy()
}

func (t FiatTotals) copy() FiatTotals {
	out := make(FiatTotals, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
