package balance

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainwallet/internal/core/domain"
)

// Rates maps a lowercase currency code to the price of one whole token.
type Rates map[string]decimal.Decimal

// HydrationContext resolves display fields of raw balances. It is read
// only; a new directory snapshot or new rates mean a new context.
type HydrationContext struct {
	snapshot *domain.Snapshot
	rates    map[domain.TokenID]Rates
}

// NewHydrationContext builds a context from a directory snapshot and token
// rates. Either may be nil.
func NewHydrationContext(snapshot *domain.Snapshot, rates map[domain.TokenID]Rates) *HydrationContext {
	return &HydrationContext{snapshot: snapshot, rates: rates}
}

// Token looks up a token.
func (h *HydrationContext) Token(id domain.TokenID) (domain.Token, bool) {
	if h == nil || h.snapshot == nil {
		return domain.Token{}, false
	}
	t, ok := h.snapshot.Tokens[id]
	return t, ok
}

// Rate returns the fiat rate of a token in currency.
func (h *HydrationContext) Rate(id domain.TokenID, currency string) (decimal.Decimal, bool) {
	if h == nil {
		return decimal.Zero, false
	}
	r, ok := h.rates[id][strings.ToLower(currency)]
	return r, ok
}

// sortIndex returns the display order of the chain or network a balance
// lives on. Unknown chains sort last.
func (h *HydrationContext) sortIndex(b *Balance) int {
	const last = int(^uint(0) >> 1)
	if h == nil || h.snapshot == nil {
		return last
	}
	if id := b.EvmNetworkID(); id != "" {
		if n, ok := h.snapshot.EvmNetworks[id]; ok {
			return n.SortIndex
		}
		return last
	}
	if c, ok := h.snapshot.Chains[b.ChainID()]; ok {
		return c.SortIndex
	}
	return last
}
