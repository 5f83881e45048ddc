package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/chainwallet/internal/codec/metadata/metadatatest"
	"github.com/vietddude/chainwallet/internal/codec/scale"
	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/poll"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm/evmtest"
	"github.com/vietddude/chainwallet/internal/infra/chain/substrate"
	"github.com/vietddude/chainwallet/internal/infra/chain/substrate/substratetest"
	"github.com/vietddude/chainwallet/internal/infra/storage/memory"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/modules/evmnative"
	"github.com/vietddude/chainwallet/internal/modules/registry"
	"github.com/vietddude/chainwallet/internal/modules/substratenative"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"

	owner = "0x00000000000000000000000000000000000000a1"
	other = "0x00000000000000000000000000000000000000b2"
)

var (
	dotID = domain.MakeTokenID("polkadot", domain.SourceSubstrateNative, "")
	ethID = domain.MakeTokenID("1", domain.SourceEvmNative, "")
)

type fixture struct {
	svc      *Service
	node     *substratetest.Node
	evmNode  *evmtest.Node
	accounts *memory.AccountRepo
	signed   int
}

func setup(t *testing.T, strategy domain.FeeStrategy) *fixture {
	t.Helper()
	f := &fixture{}

	f.node = substratetest.NewNode(metadatatest.Native(15))
	t.Cleanup(f.node.Close)
	f.node.Handle("state_call", func(params []json.RawMessage) (any, error) {
		var method string
		_ = json.Unmarshal(params[0], &method)
		if method != "TransactionPaymentApi_query_info" {
			return nil, fmt.Errorf("unsupported runtime call %s", method)
		}
		e := scale.NewEncoder()
		e.CompactUint(100)
		e.CompactUint(200)
		e.U8(0)
		_ = e.Uint(big.NewInt(12345), 16)
		return storage.ToHex(e.Bytes()), nil
	})
	f.node.Handle("payment_queryInfo", func(params []json.RawMessage) (any, error) {
		return map[string]any{"weight": 100, "class": "normal", "partialFee": "6789"}, nil
	})

	chain := domain.Chain{ID: "polkadot", RPCs: []string{f.node.URL()}, NativeTokenID: dotID, FeeStrategy: strategy}
	state := substrate.NewConnector(substrate.Config{DialTimeout: 2 * time.Second}, nil)
	state.AddChain(chain)
	t.Cleanup(func() { _ = state.Close() })

	f.evmNode = evmtest.NewNode()
	t.Cleanup(f.evmNode.Close)
	network := domain.EvmNetwork{ID: "1", RPCs: []string{f.evmNode.URL()}, NativeTokenID: ethID}
	contract := evm.NewConnector(evm.Config{Timeout: 2 * time.Second, BatchWindow: 5 * time.Millisecond, BatchSize: 50})
	contract.AddNetwork(network)
	t.Cleanup(func() { _ = contract.Close() })

	dir := domain.NewDirectory(domain.Snapshot{
		Chains:      map[domain.ChainID]domain.Chain{"polkadot": chain},
		EvmNetworks: map[domain.EvmNetworkID]domain.EvmNetwork{"1": network},
		Tokens: map[domain.TokenID]domain.Token{
			dotID: {ID: dotID, Type: domain.SourceSubstrateNative, Symbol: "DOT", Decimals: 10, Chain: "polkadot"},
			ethID: {ID: ethID, Type: domain.SourceEvmNative, Symbol: "ETH", Decimals: 18, EvmNetwork: "1"},
		},
	})

	mods, err := registry.NewWith(
		substratenative.New(state, dir),
		evmnative.New(contract, dir, poll.DefaultConfig),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var mu sync.Mutex
	signer := SignerFunc(func(ctx context.Context, address string, payload []byte) (modules.Signature, error) {
		mu.Lock()
		f.signed++
		mu.Unlock()
		if domain.IsEthereumAddress(address) {
			sig, err := crypto.Sign(payload, key)
			return modules.Signature{Bytes: sig}, err
		}
		return modules.Signature{Bytes: make([]byte, 64)}, nil
	})

	f.accounts = memory.NewAccountRepo(memory.NewMemoryStorage())
	f.svc = New(dir, mods, state, contract, f.accounts, signer)
	return f
}

func TestEstimateFee_Strategies(t *testing.T) {
	tests := []struct {
		strategy domain.FeeStrategy
		want     int64
	}{
		{domain.FeeStrategyRuntimeAPI, 12345},
		{domain.FeeStrategyLegacy, 6789},
		{"", 12345},
	}
	for _, tt := range tests {
		f := setup(t, tt.strategy)
		ctx := context.Background()
		tx, err := f.svc.Build(ctx, Request{TokenID: dotID, From: alice, To: bob, Amount: big.NewInt(5)})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.strategy, err)
		}
		fee, err := f.svc.EstimateFee(ctx, tx)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.strategy, err)
		}
		if fee.Amount.Int64() != tt.want || fee.TokenID != dotID {
			t.Errorf("%q: expected %d %s, got %s %s", tt.strategy, tt.want, dotID, fee.Amount, fee.TokenID)
		}
	}
}

func TestEstimateFee_EVMGas(t *testing.T) {
	f := setup(t, "")
	ctx := context.Background()
	tx, err := f.svc.Build(ctx, Request{TokenID: ethID, From: owner, To: other, Amount: big.NewInt(10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fee, err := f.svc.EstimateFee(ctx, tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(21000), big.NewInt(1_000_000_000))
	if fee.Amount.Cmp(want) != 0 || fee.TokenID != ethID {
		t.Errorf("expected %s, got %s", want, fee.Amount)
	}
}

func TestBuild_UnknownToken(t *testing.T) {
	f := setup(t, "")
	_, err := f.svc.Build(context.Background(), Request{TokenID: "nope", From: alice, To: bob})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransfer_SoftwareAccountSubmits(t *testing.T) {
	f := setup(t, "")
	ctx := context.Background()

	res, err := f.svc.Transfer(ctx, Request{TokenID: dotID, From: alice, To: bob, Amount: big.NewInt(5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Hash == "" || res.Pending != nil {
		t.Fatalf("expected an immediate submission, got %+v", res)
	}
	if got := len(f.node.Submitted()); got != 1 {
		t.Errorf("expected 1 submission, got %d", got)
	}

	res, err = f.svc.Transfer(ctx, Request{TokenID: ethID, From: owner, To: other, Amount: big.NewInt(10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Hash == "" || len(f.evmNode.Sent()) != 1 {
		t.Errorf("expected one raw transaction sent, got %d", len(f.evmNode.Sent()))
	}
}

func TestTransfer_HardwareFinalizedOnce(t *testing.T) {
	f := setup(t, "")
	ctx := context.Background()
	if err := f.accounts.Save(ctx, domain.Account{Address: alice, Hardware: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := f.svc.Transfer(ctx, Request{TokenID: dotID, From: alice, To: bob, Amount: big.NewInt(5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Pending == nil || res.Hash != "" {
		t.Fatalf("expected a pending transfer, got %+v", res)
	}
	if f.signed != 0 {
		t.Error("hardware transfers must not reach the software signer")
	}
	if len(f.svc.Pending()) != 1 {
		t.Fatalf("expected 1 pending transfer, got %d", len(f.svc.Pending()))
	}

	sig := modules.Signature{Bytes: make([]byte, 64)}
	var wg sync.WaitGroup
	hashes := make([]string, 8)
	for i := range hashes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := f.svc.Finalize(ctx, res.Pending.ID, sig)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			hashes[i] = h
		}()
	}
	wg.Wait()

	if got := len(f.node.Submitted()); got != 1 {
		t.Errorf("expected exactly 1 submission, got %d", got)
	}
	submitted := 0
	for _, h := range hashes {
		if h != "" {
			submitted++
		}
	}
	if submitted != 1 {
		t.Errorf("expected one call to return a hash, got %d", submitted)
	}
	if len(f.svc.Pending()) != 0 {
		t.Error("expected no pending transfers left")
	}
}

func TestFinalize_KeepsTransferWhenNothingWasSent(t *testing.T) {
	f := setup(t, "")
	ctx := context.Background()
	if err := f.accounts.Save(ctx, domain.Account{Address: alice, Hardware: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := f.svc.Transfer(ctx, Request{TokenID: dotID, From: alice, To: bob, Amount: big.NewInt(5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := res.Pending.ID

	// a malformed signature never leaves the process
	if _, err := f.svc.Finalize(ctx, id, modules.Signature{Scheme: "Bogus", Bytes: []byte{1, 2, 3}}); !errors.Is(err, domain.ErrConstruction) {
		t.Fatalf("expected construction error, got %v", err)
	}
	if _, ok := f.svc.pending.Get(id); !ok {
		t.Fatal("expected transfer still pending after a bad signature")
	}

	// the node rejecting the extrinsic leaves it pending too
	f.node.Handle("author_submitExtrinsic", func([]json.RawMessage) (any, error) {
		return nil, errors.New("invalid transaction: bad proof")
	})
	sig := modules.Signature{Bytes: make([]byte, 64)}
	if _, err := f.svc.Finalize(ctx, id, sig); err == nil {
		t.Fatal("expected rejected submit")
	}
	if _, ok := f.svc.pending.Get(id); !ok {
		t.Fatal("expected transfer still pending after a rejected submit")
	}

	f.node.Handle("author_submitExtrinsic", func([]json.RawMessage) (any, error) {
		return "0x" + fmt.Sprintf("%064x", 1), nil
	})
	hash, err := f.svc.Finalize(ctx, id, sig)
	if err != nil || hash == "" {
		t.Fatalf("expected submitted transfer, got %q %v", hash, err)
	}
	if len(f.svc.Pending()) != 0 {
		t.Error("expected no pending transfers left")
	}
}

func TestFinalize_UnknownIDIsNoop(t *testing.T) {
	f := setup(t, "")
	h, err := f.svc.Finalize(context.Background(), "polkadot-nobody-1", modules.Signature{})
	if err != nil || h != "" {
		t.Errorf("expected no-op, got %q %v", h, err)
	}
}

func TestTransfer_NoSigner(t *testing.T) {
	f := setup(t, "")
	f.svc.signer = nil
	_, err := f.svc.Transfer(context.Background(), Request{TokenID: dotID, From: alice, To: bob, Amount: big.NewInt(5)})
	if !errors.Is(err, ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}
}

func TestPendingStore_UniqueIDs(t *testing.T) {
	s := NewPendingStore()
	at := time.Unix(1700000000, 0)
	a := s.Add(&PendingTransfer{ChainRef: "polkadot", Address: alice, CreatedAt: at})
	b := s.Add(&PendingTransfer{ChainRef: "polkadot", Address: alice, CreatedAt: at})
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if want := fmt.Sprintf("polkadot-%s-%d", alice, at.UnixNano()); a != want {
		t.Errorf("expected %s, got %s", want, a)
	}
	if s.Take(a) == nil || s.Take(a) != nil {
		t.Error("expected Take to hand out the entry once")
	}
}
