package substratenative

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/metadata/metadatatest"
	"github.com/vietddude/chainwallet/internal/codec/ss58"
	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/infra/chain/substrate"
	"github.com/vietddude/chainwallet/internal/infra/chain/substrate/substratetest"
	"github.com/vietddude/chainwallet/internal/modules"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
)

var dotID = domain.MakeTokenID("polkadot", source, "")

type fixture struct {
	mod  *Module
	node *substratetest.Node
	dir  *domain.Directory
}

func setup(t *testing.T) *fixture {
	t.Helper()
	node := substratetest.NewNode(metadatatest.Native(15))
	t.Cleanup(node.Close)

	chain := domain.Chain{ID: "polkadot", RPCs: []string{node.URL()}, NativeTokenID: dotID}
	conn := substrate.NewConnector(substrate.Config{DialTimeout: 2 * time.Second}, nil)
	conn.AddChain(chain)
	t.Cleanup(func() { _ = conn.Close() })

	dir := domain.NewDirectory(domain.Snapshot{
		Chains: map[domain.ChainID]domain.Chain{"polkadot": chain},
		Tokens: map[domain.TokenID]domain.Token{
			dotID:       {ID: dotID, Type: source, Symbol: "DOT", Decimals: 10, Chain: "polkadot"},
			"acala-aca": {ID: "acala-aca", Type: domain.SourceSubstrateTokens, Chain: "polkadot"},
		},
	})
	return &fixture{mod: New(conn, dir), node: node, dir: dir}
}

func (f *fixture) setAccount(t *testing.T, address string, free, reserved, misc, fee int64) {
	t.Helper()
	q, err := storage.NewBuilder(metadatatest.Native(15)).Storage("System", "Account")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pub, err := ss58.PublicKey(address)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key, err := q.Key(pub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, err := q.Encode(map[string]any{
		"nonce": 1, "consumers": 0, "providers": 1, "sufficients": 0,
		"data": map[string]any{"free": free, "reserved": reserved, "miscFrozen": misc, "feeFrozen": fee},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.node.SetStorage(key, value)
}

func TestFetchBalances_NativeScenario(t *testing.T) {
	f := setup(t)
	f.setAccount(t, alice, 1000, 200, 30, 50)

	bs, err := f.mod.FetchBalances(context.Background(), modules.AddressesByToken{dotID: {alice, bob}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bs.Count() != 2 {
		t.Fatalf("expected 2 balances, got %d", bs.Count())
	}

	a, ok := bs.Get(balance.ID(source, alice, "polkadot", dotID))
	if !ok {
		t.Fatalf("missing alice balance, have %v", bs.IDs())
	}
	for name, got := range map[string]string{
		"total":        a.Total().String(),
		"frozen":       a.Frozen().String(),
		"transferable": a.Transferable().String(),
		"feePayable":   a.FeePayable().String(),
	} {
		want := map[string]string{"total": "1200", "frozen": "80", "transferable": "970", "feePayable": "950"}[name]
		if got != want {
			t.Errorf("%s: expected %s, got %s", name, want, got)
		}
	}
	if a.Status() != balance.StatusLive {
		t.Errorf("expected live status, got %s", a.Status())
	}

	b, _ := bs.Get(balance.ID(source, bob, "polkadot", dotID))
	if b == nil || !b.IsZero() {
		t.Error("expected an absent account to read as zero")
	}
	if got := f.node.Calls("state_queryStorageAt"); got != 1 {
		t.Errorf("expected one storage query for both addresses, got %d", got)
	}
}

func TestFetchBalances_UnknownToken(t *testing.T) {
	f := setup(t)
	_, err := f.mod.FetchBalances(context.Background(), modules.AddressesByToken{"nope": {alice}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchBalances_SkipsOtherProtocols(t *testing.T) {
	f := setup(t)
	bs, err := f.mod.FetchBalances(context.Background(), modules.AddressesByToken{"acala-aca": {alice}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bs.Count() != 0 {
		t.Errorf("expected nothing for a foreign token, got %d", bs.Count())
	}
}

func TestSubscribeBalances(t *testing.T) {
	f := setup(t)
	f.setAccount(t, alice, 1000, 0, 0, 0)

	var (
		mu   sync.Mutex
		seen []string
	)
	unsub, err := f.mod.SubscribeBalances(context.Background(), modules.AddressesByToken{dotID: {alice}},
		func(bs *balance.Balances, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, bs.Each()[0].Free().String())
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unsub()

	count := func() int { mu.Lock(); defer mu.Unlock(); return len(seen) }
	waitFor(t, func() bool { return count() == 1 })
	f.setAccount(t, alice, 750, 0, 0, 0)
	waitFor(t, func() bool { return count() == 2 })

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "1000" || seen[1] != "750" {
		t.Errorf("expected [1000 750], got %v", seen)
	}
}

func TestSubscribeBalances_FollowsRuntimeUpgrade(t *testing.T) {
	f := setup(t)
	f.setAccount(t, alice, 1000, 0, 100, 200)

	var (
		mu   sync.Mutex
		seen []balance.Storage
	)
	unsub, err := f.mod.SubscribeBalances(context.Background(), modules.AddressesByToken{dotID: {alice}},
		func(bs *balance.Balances, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, bs.Each()[0].Storage())
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unsub()

	last := func() balance.Storage {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			return balance.Storage{}
		}
		return seen[len(seen)-1]
	}
	waitFor(t, func() bool { return last().MiscFrozen == "100" })

	// The upgraded runtime stores (free, reserved, frozen, flags) in the
	// same number of bytes as the legacy layout.
	upgraded := metadatatest.Tokens()
	q, err := storage.NewBuilder(upgraded).Storage("System", "Account")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pub, _ := ss58.PublicKey(alice)
	key, err := q.Key(pub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, err := q.Encode(map[string]any{
		"nonce": 1, "consumers": 0, "providers": 1, "sufficients": 0,
		"data": map[string]any{"free": 1000, "reserved": 0, "frozen": 300, "flags": 0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.node.SetStorage(key, value)
	f.node.SetRuntime(2, upgraded)

	waitFor(t, func() bool {
		s := last()
		return s.Frozen == "300" && s.MiscFrozen == "" && s.FeeFrozen == ""
	})
	// the subscription opened for the old runtime is closed
	waitFor(t, func() bool { return f.node.Subscriptions() == 1 })
}

func TestFetchChainMetaAndTokens(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	meta, err := f.mod.FetchChainMeta(ctx, "polkadot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.SpecVersion != 1 || meta.ExistentialDeposit != "10000000000" {
		t.Errorf("unexpected meta %+v", meta)
	}
	mini, err := metadata.Decode(meta.MiniMetadata)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, ok := mini.StorageEntry("System", "Account"); !ok {
		t.Error("expected System.Account to survive minimization")
	}

	tokens, err := f.mod.FetchChainTokens(ctx, "polkadot", meta, modules.ModuleConfig{
		Tokens: []modules.TokenConfig{{Symbol: "DOT", Decimals: 10}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok, ok := tokens[dotID]
	if !ok || tok.Symbol != "DOT" || tok.ExistentialDeposit != "10000000000" {
		t.Errorf("unexpected tokens %+v", tokens)
	}

	if _, err := f.mod.FetchChainMeta(ctx, "kusama"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown chain, got %v", err)
	}
}

func TestTransferToken(t *testing.T) {
	f := setup(t)
	token, _ := f.dir.Token(dotID)

	tests := []struct {
		mode   modules.TransferMode
		method string
	}{
		{modules.TransferKeepAlive, "Balances.transfer_keep_alive"},
		{modules.TransferAllowDeath, "Balances.transfer_allow_death"},
		{modules.TransferAll, "Balances.transfer_all"},
	}
	for _, tt := range tests {
		tx, err := f.mod.TransferToken(context.Background(), modules.TransferParams{
			Token: token, From: alice, To: bob, Amount: big.NewInt(5), Mode: tt.mode,
		})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.method, err)
		}
		if tx.Method != tt.method {
			t.Errorf("expected %s, got %s", tt.method, tx.Method)
		}
		if tx.ChainRef() != "polkadot" || tx.From != alice {
			t.Errorf("unexpected tx context %+v", tx)
		}
		if len(tx.Payload()) == 0 {
			t.Error("expected a signing payload")
		}
		signed, err := tx.Assemble(modules.Signature{Bytes: bytes.Repeat([]byte{7}, 64)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Contains(signed, tx.Substrate.Call) {
			t.Error("expected the call inside the signed extrinsic")
		}
	}
}

func TestTransferToken_ProtocolMismatch(t *testing.T) {
	f := setup(t)
	token, _ := f.dir.Token("acala-aca")
	_, err := f.mod.TransferToken(context.Background(), modules.TransferParams{Token: token, From: alice, To: bob})
	if !errors.Is(err, domain.ErrProtocolMismatch) {
		t.Fatalf("expected ErrProtocolMismatch, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out")
}
