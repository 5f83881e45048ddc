package domain

import (
	"errors"
	"testing"
)

func testSnapshot() Snapshot {
	return Snapshot{
		Chains: map[ChainID]Chain{
			"kusama":   {ID: "kusama", SortIndex: 1, GenesisHash: "0xb0a8"},
			"polkadot": {ID: "polkadot", SortIndex: 0, GenesisHash: "0x91b1"},
		},
		EvmNetworks: map[EvmNetworkID]EvmNetwork{"1": {ID: "1", SortIndex: 2}},
		Tokens: map[TokenID]Token{
			"polkadot-substrate-native": {ID: "polkadot-substrate-native", Type: SourceSubstrateNative, Chain: "polkadot"},
			"1-evm-native":              {ID: "1-evm-native", Type: SourceEvmNative, EvmNetwork: "1"},
		},
	}
}

func TestDirectory_Lookups(t *testing.T) {
	d := NewDirectory(testSnapshot())

	if c, err := d.ChainByGenesis("0x91b1"); err != nil || c.ID != "polkadot" {
		t.Errorf("unexpected genesis lookup %+v, %v", c, err)
	}
	if _, err := d.Token("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := d.EvmNetwork("56"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	chains := d.Chains()
	if len(chains) != 2 || chains[0].ID != "polkadot" {
		t.Errorf("expected chains by sort index, got %+v", chains)
	}
	if got := d.TokensBySource("1", SourceEvmNative); len(got) != 1 {
		t.Errorf("expected one evm native token, got %+v", got)
	}
}

func TestDirectory_ReplaceNotifiesListeners(t *testing.T) {
	d := NewDirectory(Snapshot{})
	if len(d.Tokens()) != 0 {
		t.Fatal("expected empty directory")
	}

	var seen int
	stop := d.OnReplace(func(s *Snapshot) { seen = len(s.Tokens) })
	d.Replace(testSnapshot())
	if seen != 2 {
		t.Errorf("expected listener to see 2 tokens, got %d", seen)
	}

	stop()
	stop()
	d.Replace(Snapshot{})
	if seen != 2 {
		t.Error("listener ran after removal")
	}
	if d.Snapshot().Chains == nil {
		t.Error("expected normalized maps")
	}
}

func TestMakeTokenID(t *testing.T) {
	if got := MakeTokenID("polkadot", SourceSubstrateNative, ""); got != "polkadot-substrate-native" {
		t.Errorf("unexpected native id %s", got)
	}
	if got := MakeTokenID("1", SourceEvmErc20, "0xDAC1"); got != "1-evm-erc20-0xdac1" {
		t.Errorf("unexpected erc20 id %s", got)
	}
	if SourceEvmErc20.Family() != FamilyEVM || !SourceSubstrateTokens.Valid() || Source("x").Valid() {
		t.Error("unexpected source classification")
	}
}
