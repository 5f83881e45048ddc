package substratetokens

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/metadata/metadatatest"
	"github.com/vietddude/chainwallet/internal/codec/shape"
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

var (
	dotID  = domain.MakeTokenID("acala", source, "DOT")
	ausdID = domain.MakeTokenID("acala", source, "AUSD")
)

type fixture struct {
	mod  *Module
	node *substratetest.Node
	dir  *domain.Directory
	meta *metadata.Metadata
}

func setup(t *testing.T, meta *metadata.Metadata) *fixture {
	t.Helper()
	node := substratetest.NewNode(meta)
	t.Cleanup(node.Close)

	chain := domain.Chain{ID: "acala", RPCs: []string{node.URL()}}
	conn := substrate.NewConnector(substrate.Config{DialTimeout: 2 * time.Second}, nil)
	conn.AddChain(chain)
	t.Cleanup(func() { _ = conn.Close() })

	dir := domain.NewDirectory(domain.Snapshot{
		Chains: map[domain.ChainID]domain.Chain{"acala": chain},
		Tokens: map[domain.TokenID]domain.Token{
			dotID:  {ID: dotID, Type: source, Symbol: "DOT", Decimals: 10, Chain: "acala", OnChainID: "Token:DOT"},
			ausdID: {ID: ausdID, Type: source, Symbol: "AUSD", Decimals: 12, Chain: "acala", OnChainID: "Token:AUSD"},
		},
	})
	return &fixture{mod: New(conn, dir), node: node, dir: dir, meta: meta}
}

func (f *fixture) setAccount(t *testing.T, address, onChainID string, free, reserved, frozen int64) {
	t.Helper()
	q, err := storage.NewBuilder(f.meta).Storage("Tokens", "Accounts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pub, err := ss58.PublicKey(address)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	currency, err := CurrencyID(onChainID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key, err := q.Key(pub, currency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, err := q.Encode(map[string]any{"free": free, "reserved": reserved, "frozen": frozen})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.node.SetStorage(key, value)
}

func TestCurrencyID(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"Token:DOT", shape.Enum{Tag: "Token", Value: "DOT"}},
		{"ForeignAsset:3", shape.Enum{Tag: "ForeignAsset", Value: "3"}},
		{"Native", "Native"},
	}
	for _, tt := range tests {
		got, err := CurrencyID(tt.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: expected %#v, got %#v", tt.in, tt.want, got)
		}
	}
	if _, err := CurrencyID("Token:"); !errors.Is(err, domain.ErrConstruction) {
		t.Errorf("expected ErrConstruction for an empty part, got %v", err)
	}
}

func TestFetchBalances(t *testing.T) {
	f := setup(t, metadatatest.Tokens())
	f.setAccount(t, alice, "Token:DOT", 500, 20, 100)
	f.setAccount(t, alice, "Token:AUSD", 7, 0, 0)

	bs, err := f.mod.FetchBalances(context.Background(), modules.AddressesByToken{
		dotID:  {alice, bob},
		ausdID: {alice},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bs.Count() != 3 {
		t.Fatalf("expected 3 balances, got %d", bs.Count())
	}

	dot, _ := bs.Get(balance.ID(source, alice, "acala", dotID))
	if dot == nil {
		t.Fatal("missing DOT balance")
	}
	if got := dot.Total().String(); got != "520" {
		t.Errorf("expected total 520, got %s", got)
	}
	if got := dot.Transferable().String(); got != "400" {
		t.Errorf("expected transferable 400, got %s", got)
	}
	if got := dot.FeePayable().String(); got != "500" {
		t.Errorf("expected feePayable to equal free for tokens, got %s", got)
	}

	ausd, _ := bs.Get(balance.ID(source, alice, "acala", ausdID))
	if ausd == nil || ausd.Free().String() != "7" {
		t.Errorf("expected AUSD free 7, got %v", ausd)
	}
	empty, _ := bs.Get(balance.ID(source, bob, "acala", dotID))
	if empty == nil || !empty.IsZero() {
		t.Error("expected absent account to read as zero")
	}
}

func TestSubscribeBalances(t *testing.T) {
	f := setup(t, metadatatest.Tokens())
	f.setAccount(t, alice, "Token:DOT", 1, 0, 0)

	var (
		mu   sync.Mutex
		last *balance.Balances
		n    int
	)
	unsub, err := f.mod.SubscribeBalances(context.Background(), modules.AddressesByToken{dotID: {alice}},
		func(bs *balance.Balances, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			last, n = bs, n+1
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count := func() int { mu.Lock(); defer mu.Unlock(); return n }
	waitFor(t, func() bool { return count() == 1 })
	f.setAccount(t, alice, "Token:DOT", 2, 0, 0)
	waitFor(t, func() bool { return count() == 2 })

	mu.Lock()
	free := last.Each()[0].Free().String()
	mu.Unlock()
	if free != "2" {
		t.Errorf("expected free 2 after update, got %s", free)
	}

	unsub()
	unsub()
	waitFor(t, func() bool { return f.node.Subscriptions() == 0 })
}

func TestFetchChainTokens(t *testing.T) {
	f := setup(t, metadatatest.Tokens())
	tokens, err := f.mod.FetchChainTokens(context.Background(), "acala", nil, modules.ModuleConfig{
		Tokens: []modules.TokenConfig{
			{Symbol: "DOT", Decimals: 10, OnChainID: "Token:DOT"},
			{Symbol: "LDOT", Decimals: 10},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected the token without on-chain id to be skipped, got %v", tokens)
	}
	if tok := tokens[dotID]; tok.OnChainID != "Token:DOT" || tok.Chain != "acala" {
		t.Errorf("unexpected token %+v", tok)
	}
}

func TestTransferToken_FallsBackToTokensPallet(t *testing.T) {
	f := setup(t, metadatatest.Tokens())
	token, _ := f.dir.Token(dotID)

	tx, err := f.mod.TransferToken(context.Background(), modules.TransferParams{
		Token: token, From: alice, To: bob, Amount: big.NewInt(10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Method != "Tokens.transfer" {
		t.Errorf("expected Tokens.transfer, got %s", tx.Method)
	}
	if tx.Substrate.Call[0] != metadatatest.TokensIndex {
		t.Errorf("expected pallet index %d, got %d", metadatatest.TokensIndex, tx.Substrate.Call[0])
	}
}

func TestTransferToken_AggregatesCandidateErrors(t *testing.T) {
	f := setup(t, metadatatest.Native(15))
	token, _ := f.dir.Token(dotID)

	_, err := f.mod.TransferToken(context.Background(), modules.TransferParams{
		Token: token, From: alice, To: bob, Amount: big.NewInt(10),
	})
	if !errors.Is(err, domain.ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
	for _, want := range []string{"Currencies.transfer", "Tokens.transfer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
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
