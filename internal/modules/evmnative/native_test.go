package evmnative

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/poll"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm/evmtest"
	"github.com/vietddude/chainwallet/internal/modules"
)

const (
	owner = "0x00000000000000000000000000000000000000a1"
	other = "0x00000000000000000000000000000000000000b2"
)

var ethID = domain.MakeTokenID("1", source, "")

type fixture struct {
	mod  *Module
	node *evmtest.Node
	dir  *domain.Directory
}

func setup(t *testing.T) *fixture {
	t.Helper()
	node := evmtest.NewNode()
	t.Cleanup(node.Close)

	network := domain.EvmNetwork{ID: "1", RPCs: []string{node.URL()}, IsTestnet: true}
	conn := evm.NewConnector(evm.Config{Timeout: 2 * time.Second, BatchWindow: 5 * time.Millisecond, BatchSize: 50})
	conn.AddNetwork(network)
	t.Cleanup(func() { _ = conn.Close() })

	dir := domain.NewDirectory(domain.Snapshot{
		EvmNetworks: map[domain.EvmNetworkID]domain.EvmNetwork{"1": network},
		Tokens: map[domain.TokenID]domain.Token{
			ethID: {ID: ethID, Type: source, Symbol: "ETH", Decimals: 18, EvmNetwork: "1"},
		},
	})
	return &fixture{mod: New(conn, dir, poll.Config{Interval: 20 * time.Millisecond, ZeroEvery: 1}), node: node, dir: dir}
}

func TestFetchBalances(t *testing.T) {
	f := setup(t)
	f.node.SetNative(owner, big.NewInt(3_000_000))

	bs, err := f.mod.FetchBalances(context.Background(), modules.AddressesByToken{ethID: {owner, other, "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bs.Count() != 2 {
		t.Fatalf("expected the non-ethereum address to be skipped, got %d balances", bs.Count())
	}
	b, ok := bs.Get(balance.ID(source, owner, "1", ethID))
	if !ok {
		t.Fatal("missing owner balance")
	}
	if b.Free().String() != "3000000" || b.Transferable().String() != "3000000" {
		t.Errorf("unexpected balance free=%s transferable=%s", b.Free(), b.Transferable())
	}
	if b.EvmNetworkID() != "1" || b.ChainID() != "" {
		t.Errorf("expected an evm network balance, got %+v", b.Storage())
	}
	if empty, _ := bs.Get(balance.ID(source, other, "1", ethID)); empty == nil || !empty.IsZero() {
		t.Error("expected zero balance for an empty account")
	}
}

func TestFetchChainMetaAndTokens(t *testing.T) {
	f := setup(t)
	meta, err := f.mod.FetchChainMeta(context.Background(), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !meta.IsTestnet {
		t.Error("expected testnet flag from the network")
	}
	tokens, err := f.mod.FetchChainTokens(context.Background(), "1", meta, modules.ModuleConfig{
		Tokens: []modules.TokenConfig{{Symbol: "ETH", Decimals: 18}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok := tokens[ethID]; tok.Symbol != "ETH" || tok.EvmNetwork != "1" || !tok.IsTestnet {
		t.Errorf("unexpected token %+v", tok)
	}
	if _, err := f.mod.FetchChainMeta(context.Background(), "404"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeBalances_Polls(t *testing.T) {
	f := setup(t)
	f.node.SetNative(owner, big.NewInt(1))

	var (
		mu   sync.Mutex
		last string
	)
	unsub, err := f.mod.SubscribeBalances(context.Background(), modules.AddressesByToken{ethID: {owner}},
		func(bs *balance.Balances, err error) {
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			last = bs.Each()[0].Free().String()
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unsub()

	read := func() string { mu.Lock(); defer mu.Unlock(); return last }
	waitFor(t, func() bool { return read() == "1" })
	f.node.SetNative(owner, big.NewInt(2))
	waitFor(t, func() bool { return read() == "2" })
}

func TestTransferToken(t *testing.T) {
	f := setup(t)
	token, _ := f.dir.Token(ethID)

	tx, err := f.mod.TransferToken(context.Background(), modules.TransferParams{
		Token: token, From: owner, To: other, Amount: big.NewInt(10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.EVM == nil || tx.EVM.Tx.Value().Int64() != 10 || tx.EVM.Tx.Type() != types.LegacyTxType {
		t.Fatalf("unexpected transaction %+v", tx.EVM)
	}
	if tx.ChainRef() != "1" || len(tx.Payload()) != 32 {
		t.Errorf("unexpected chain %s or payload length %d", tx.ChainRef(), len(tx.Payload()))
	}
}

func TestTransferToken_All(t *testing.T) {
	f := setup(t)
	token, _ := f.dir.Token(ethID)
	// 21000 gas at 1 gwei
	f.node.SetNative(owner, big.NewInt(21_000_000_000_000+500))

	tx, err := f.mod.TransferToken(context.Background(), modules.TransferParams{
		Token: token, From: owner, To: other, Mode: modules.TransferAll,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tx.EVM.Tx.Value().Int64(); got != 500 {
		t.Errorf("expected balance minus max fee, got %d", got)
	}

	f.node.SetNative(owner, big.NewInt(100))
	_, err = f.mod.TransferToken(context.Background(), modules.TransferParams{
		Token: token, From: owner, To: other, Mode: modules.TransferAll,
	})
	if !errors.Is(err, domain.ErrConstruction) {
		t.Errorf("expected ErrConstruction when the fee exceeds the balance, got %v", err)
	}
}

func TestTransferToken_Rejections(t *testing.T) {
	f := setup(t)
	token, _ := f.dir.Token(ethID)

	_, err := f.mod.TransferToken(context.Background(), modules.TransferParams{
		Token: token, From: owner, To: "not-an-address", Amount: big.NewInt(1),
	})
	if !errors.Is(err, domain.ErrConstruction) {
		t.Errorf("expected ErrConstruction, got %v", err)
	}

	token.Type = domain.SourceEvmErc20
	_, err = f.mod.TransferToken(context.Background(), modules.TransferParams{
		Token: token, From: owner, To: other, Amount: big.NewInt(1),
	})
	if !errors.Is(err, domain.ErrProtocolMismatch) {
		t.Errorf("expected ErrProtocolMismatch, got %v", err)
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
