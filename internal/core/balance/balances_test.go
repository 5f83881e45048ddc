package balance

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainwallet/internal/core/domain"
)

func erc20(address, free string) *Balance {
	return New(Storage{
		Source:       domain.SourceEvmErc20,
		Status:       StatusLive,
		Address:      address,
		EvmNetworkID: "1",
		TokenID:      "1-evm-erc20-usdt",
		Free:         free,
	}, nil)
}

func TestBalances_AddIsIdempotentByID(t *testing.T) {
	b := erc20("0x01", "5")
	empty := NewBalances()

	once := empty.Add(b)
	twice := once.Add(b)
	if once.Count() != twice.Count() {
		t.Errorf("expected %d, got %d", once.Count(), twice.Count())
	}
	if empty.Count() != 0 {
		t.Error("Add modified the receiver")
	}
}

func TestBalances_LastWriteWinsKeepsPosition(t *testing.T) {
	bs := NewBalances(erc20("0x01", "1"), erc20("0x02", "2"), erc20("0x01", "3"))
	if bs.Count() != 2 {
		t.Fatalf("expected 2, got %d", bs.Count())
	}
	first := bs.Each()[0]
	if first.Address() != "0x01" || first.Free().String() != "3" {
		t.Errorf("expected replaced balance in first position, got %s %s", first.Address(), first.Free())
	}
}

func TestBalances_RemoveThenFind(t *testing.T) {
	a, b := erc20("0x01", "1"), erc20("0x02", "2")
	bs := NewBalances(a, b)

	removed := bs.Remove(a.ID())
	if removed.Find(Filter{ID: a.ID()}).Count() != 0 {
		t.Error("expected removed balance to be gone")
	}
	if bs.Find(Filter{ID: a.ID()}).Count() != 1 {
		t.Error("Remove modified the receiver")
	}
	if got := removed.IDs(); len(got) != 1 || got[0] != b.ID() {
		t.Errorf("unexpected ids %v", got)
	}
}

func TestBalances_FindMatchesAnyFilter(t *testing.T) {
	bs := NewBalances(
		erc20("0x01", "1"),
		erc20("0x02", "2"),
		New(nativeStorage("1", "", "", ""), nil),
	)
	got := bs.Find(Filter{Address: "0x02"}, Filter{Source: domain.SourceSubstrateNative})
	if got.Count() != 2 {
		t.Errorf("expected 2 matches, got %d", got.Count())
	}
	if bs.Find(Filter{EvmNetworkID: "1", Address: "0x01"}).Count() != 1 {
		t.Error("expected fields within one filter to combine")
	}
}

func TestBalances_Equal(t *testing.T) {
	x := NewBalances(erc20("0x01", "1"), erc20("0x02", "2"))
	y := NewBalances(erc20("0x02", "2"), erc20("0x01", "1"))
	if !x.Equal(y) {
		t.Error("expected equal regardless of order")
	}
	if x.Equal(NewBalances(erc20("0x01", "1"), erc20("0x02", "3"))) {
		t.Error("expected different amounts to differ")
	}
	if x.Equal(x.Add(erc20("0x01", "1").WithStatus(StatusCache))) {
		t.Error("expected status change to differ")
	}
}

func TestBalances_IsZero(t *testing.T) {
	if !NewBalances().IsZero() {
		t.Error("empty collection must be zero")
	}
	if !NewBalances(erc20("0x01", "0"), erc20("0x02", "")).IsZero() {
		t.Error("expected zero")
	}
	if NewBalances(erc20("0x01", "0"), erc20("0x02", "1")).IsZero() {
		t.Error("expected non-zero")
	}
}

func TestBalances_SumIsCachedPerInstance(t *testing.T) {
	h := testHydration()
	bs := NewBalances(
		New(nativeStorage("1000", "200", "30", "50"), h),
		New(nativeStorage("100", "", "", ""), h).WithStatus(StatusCache),
	)
	// Both share an id, so only the second remains: 1 DOT at 5 usd.
	if bs.Count() != 1 {
		t.Fatalf("expected 1 balance, got %d", bs.Count())
	}

	sum := bs.Sum()
	if sum != bs.Sum() {
		t.Error("expected Sum cached per instance")
	}
	totals := sum.Fiat("usd")
	if !totals[FieldTotal].Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected 5 usd total, got %s", totals[FieldTotal])
	}

	totals[FieldTotal] = decimal.NewFromInt(99)
	if !sum.Fiat("usd")[FieldTotal].Equal(decimal.NewFromInt(5)) {
		t.Error("cached totals were modified through a returned map")
	}

	grown := bs.Add(New(Storage{
		Source:  domain.SourceSubstrateNative,
		Address: "other",
		ChainID: "polkadot",
		TokenID: "polkadot-substrate-native",
		Free:    "300",
	}, h))
	if !grown.Sum().Fiat("usd")[FieldTotal].Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected 20 usd on the new instance, got %s", grown.Sum().Fiat("usd")[FieldTotal])
	}
}

func TestBalances_Sorted(t *testing.T) {
	h := testHydration()
	dot := New(nativeStorage("1", "", "", ""), h)
	usdt := erc20("0x01", "1").WithHydration(h)
	unknown := New(Storage{Source: domain.SourceSubstrateNative, ChainID: "nowhere", TokenID: "x", Address: "a"}, h)

	got := NewBalances(unknown, dot, usdt).Sorted()
	if got[0] != usdt || got[1] != dot || got[2] != unknown {
		t.Errorf("unexpected order %s, %s, %s", got[0].ID(), got[1].ID(), got[2].ID())
	}
}
