package balance

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is one derived amount of a balance.
type Amount struct {
	balance *Balance
	field   Field
	planck  *big.Int
}

// Planck returns the amount in the token's smallest unit.
func (a Amount) Planck() *big.Int {
	if a.planck == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.planck)
}

// String returns the planck amount as a decimal string.
func (a Amount) String() string {
	return a.Planck().String()
}

// Tokens returns the amount in whole tokens. ok is false when the token's
// decimals are unknown.
func (a Amount) Tokens() (decimal.Decimal, bool) {
	if a.balance == nil {
		return decimal.Zero, false
	}
	d, ok := a.balance.Decimals()
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromBigInt(a.Planck(), -int32(d)), true
}

// Fiat returns the amount in currency. ok is false without a hydrated token
// or a rate for currency.
func (a Amount) Fiat(currency string) (decimal.Decimal, bool) {
	if a.balance == nil {
		return decimal.Zero, false
	}
	return a.balance.fiatOf(a.field, currency, a.Planck())
}
