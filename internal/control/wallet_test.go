package control

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/config"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/emitter"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm/evmtest"
	"github.com/vietddude/chainwallet/internal/transfer"
)

const (
	owner = "0x1111111111111111111111111111111111111111"
	usdt  = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

func newTestWallet(t *testing.T, node *evmtest.Node) *Wallet {
	t.Helper()

	doc := fmt.Sprintf(`
server:
  port: 0
poll:
  interval: 20ms
persist:
  interval: 20ms
evm_networks:
  - id: "1"
    rpcs: [%s]
    native_token: {symbol: ETH}
    modules:
      evm-erc20:
        tokens:
          - {contract_address: "%s"}
accounts:
  - {address: %s}
  - {address: 5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY}
`, node.URL(), usdt, owner)

	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	w, err := NewWallet(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewWallet failed: %v", err)
	}
	return w
}

func newNode(t *testing.T) *evmtest.Node {
	t.Helper()
	node := evmtest.NewNode()
	t.Cleanup(node.Close)
	node.AddToken(usdt, &evmtest.Token{Symbol: "USDT", Decimals: 6})
	node.SetNative(owner, big.NewInt(3e18))
	node.SetTokenBalance(usdt, owner, big.NewInt(500))
	return node
}

func TestBuildRequest(t *testing.T) {
	tokens := []domain.Token{
		{ID: "polkadot-substrate-native", Type: domain.SourceSubstrateNative, Chain: "polkadot"},
		{ID: "1-evm-native", Type: domain.SourceEvmNative, EvmNetwork: "1"},
	}
	accounts := []domain.Account{
		{Address: owner},
		{Address: "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"},
	}

	req := BuildRequest(tokens, accounts)
	if got := req["1-evm-native"]; len(got) != 1 || got[0] != owner {
		t.Errorf("unexpected evm addresses %v", got)
	}
	if got := req["polkadot-substrate-native"]; len(got) != 1 || got[0] == owner {
		t.Errorf("unexpected substrate addresses %v", got)
	}

	if req := BuildRequest(tokens, accounts[:1]); len(req) != 1 {
		t.Errorf("tokens without accounts should be skipped, got %v", req)
	}
}

func TestWallet_Fetch(t *testing.T) {
	node := newNode(t)
	w := newTestWallet(t, node)
	defer w.Close()

	bs, err := w.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	nativeID := balance.ID(domain.SourceEvmNative, owner, "1", "1-evm-native")
	b, ok := bs.Get(nativeID)
	if !ok {
		t.Fatalf("missing native balance, got %v", bs.IDs())
	}
	if b.Total().String() != "3000000000000000000" {
		t.Errorf("unexpected native total %s", b.Total())
	}
	if b.Symbol() != "ETH" {
		t.Errorf("expected hydrated symbol ETH, got %q", b.Symbol())
	}
	if bs.Count() != 2 {
		t.Errorf("expected native and erc20 balances, got %v", bs.IDs())
	}
	if _, err := w.Directory().Token("1-evm-native"); err != nil {
		t.Errorf("native token not discovered: %v", err)
	}
}

func TestWallet_StartStreamsBalances(t *testing.T) {
	node := newNode(t)
	w := newTestWallet(t, node)

	events := make(chan emitter.Event, 32)
	unsubscribe := w.Stream().Subscribe(context.Background(), emitter.Func(func(_ context.Context, ev emitter.Event) error {
		events <- ev
		return nil
	}))
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == emitter.KindUpsert && ev.Balances.Count() > 0 {
				if err := w.Stop(context.Background()); err != nil {
					t.Errorf("Stop failed: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no balances streamed")
		}
	}
}

func TestWallet_EstimateFee(t *testing.T) {
	node := newNode(t)
	w := newTestWallet(t, node)
	defer w.Close()

	fee, err := w.EstimateFee(context.Background(), transfer.Request{
		TokenID: "1-evm-native",
		From:    owner,
		To:      "0x2222222222222222222222222222222222222222",
		Amount:  big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("EstimateFee failed: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(21000), big.NewInt(1e9))
	if fee.Amount.Cmp(want) != 0 {
		t.Errorf("expected fee %s, got %s", want, fee.Amount)
	}
}

func TestLogEmitter(t *testing.T) {
	e := &LogEmitter{}
	bs := balance.NewBalances(balance.New(balance.Storage{
		Source:       domain.SourceEvmNative,
		Status:       balance.StatusLive,
		Address:      owner,
		EvmNetworkID: "1",
		TokenID:      "1-evm-native",
		Free:         "1",
	}, nil))

	for _, ev := range []emitter.Event{
		{Kind: emitter.KindInitialising},
		{Kind: emitter.KindUpsert, Balances: bs},
		{Kind: emitter.KindDelete, IDs: bs.IDs()},
		{Kind: emitter.KindReset},
	} {
		if err := e.Emit(context.Background(), ev); err != nil {
			t.Errorf("%s: unexpected error %v", ev.Kind, err)
		}
	}
}
