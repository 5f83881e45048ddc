package feed

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/modules"
)

var (
	dotID  = domain.MakeTokenID("polkadot", domain.SourceSubstrateNative, "")
	ksmID  = domain.MakeTokenID("kusama", domain.SourceSubstrateNative, "")
	usdtID = domain.MakeTokenID("1", domain.SourceEvmErc20, "0xdac17f958d2ee523a2206206994597c13d831ec7")
)

func testDirectory() *domain.Directory {
	return domain.NewDirectory(domain.Snapshot{
		Tokens: map[domain.TokenID]domain.Token{
			dotID:  {ID: dotID, Type: domain.SourceSubstrateNative, Chain: "polkadot"},
			ksmID:  {ID: ksmID, Type: domain.SourceSubstrateNative, Chain: "kusama"},
			usdtID: {ID: usdtID, Type: domain.SourceEvmErc20, EvmNetwork: "1"},
		},
	})
}

// fakeModule records subscriptions so tests can push snapshots through them.
type fakeModule struct {
	source domain.Source

	mu        sync.Mutex
	callbacks map[string]modules.Callback
	unsubs    map[string]int

	subscribeFn func(req modules.AddressesByToken) error
	fetchFn     func(req modules.AddressesByToken) (*balance.Balances, error)
}

func newFakeModule(source domain.Source) *fakeModule {
	return &fakeModule{source: source, callbacks: map[string]modules.Callback{}, unsubs: map[string]int{}}
}

func chainOf(req modules.AddressesByToken) string {
	for id := range req {
		switch id {
		case dotID:
			return "polkadot"
		case ksmID:
			return "kusama"
		case usdtID:
			return "1"
		}
	}
	return ""
}

func (m *fakeModule) Source() domain.Source { return m.source }
func (m *fakeModule) FetchChainMeta(context.Context, string) (*modules.ChainMeta, error) {
	return nil, nil
}
func (m *fakeModule) FetchChainTokens(context.Context, string, *modules.ChainMeta, modules.ModuleConfig) (map[domain.TokenID]domain.Token, error) {
	return nil, nil
}
func (m *fakeModule) SubscribeBalances(_ context.Context, req modules.AddressesByToken, cb modules.Callback) (func(), error) {
	if m.subscribeFn != nil {
		if err := m.subscribeFn(req); err != nil {
			return nil, err
		}
	}
	chain := chainOf(req)
	m.mu.Lock()
	m.callbacks[chain] = cb
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.unsubs[chain]++
	}, nil
}
func (m *fakeModule) FetchBalances(_ context.Context, req modules.AddressesByToken) (*balance.Balances, error) {
	return m.fetchFn(req)
}
func (m *fakeModule) TransferToken(context.Context, modules.TransferParams) (*modules.UnsignedTx, error) {
	return nil, nil
}

func (m *fakeModule) emit(t *testing.T, chain string, bs *balance.Balances, err error) {
	t.Helper()
	var cb modules.Callback
	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		cb = m.callbacks[chain]
		return cb != nil
	})
	cb(bs, err)
}

func (m *fakeModule) unsubCount(chain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubs[chain]
}

type fakeSource map[domain.Source]modules.Module

func (s fakeSource) Module(source domain.Source) (modules.Module, error) {
	m, ok := s[source]
	if !ok {
		return nil, domain.ErrProtocolMismatch
	}
	return m, nil
}

func nativeBalance(chain, free string) *balance.Balances {
	return balance.NewBalances(balance.New(balance.Storage{
		Source:  domain.SourceSubstrateNative,
		Status:  balance.StatusLive,
		Address: "alice",
		ChainID: domain.ChainID(chain),
		TokenID: domain.MakeTokenID(chain, domain.SourceSubstrateNative, ""),
		Free:    free,
	}, nil))
}

type collector struct {
	mu      sync.Mutex
	updates []Update
}

func (c *collector) handle(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) snapshot() []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Update(nil), c.updates...)
}

func TestSplit(t *testing.T) {
	groups, err := Split(testDirectory(), modules.AddressesByToken{
		dotID:  {"alice"},
		ksmID:  {"alice", "bob"},
		usdtID: {"0x01"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected one group per chain and source, got %d", len(groups))
	}
	want := []string{"1/evm-erc20", "kusama/substrate-native", "polkadot/substrate-native"}
	for i, g := range groups {
		if g.Key.String() != want[i] {
			t.Errorf("group %d: expected %s, got %s", i, want[i], g.Key)
		}
	}

	if _, err := Split(testDirectory(), modules.AddressesByToken{"nope": {"alice"}}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribe_SuppressesUnchangedSnapshots(t *testing.T) {
	mod := newFakeModule(domain.SourceSubstrateNative)
	o := New(testDirectory(), fakeSource{domain.SourceSubstrateNative: mod}, Config{})
	c := &collector{}

	sub, err := o.Subscribe(context.Background(), modules.AddressesByToken{dotID: {"alice"}}, c.handle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()

	mod.emit(t, "polkadot", nativeBalance("polkadot", "10"), nil)
	mod.emit(t, "polkadot", nativeBalance("polkadot", "10"), nil)
	mod.emit(t, "polkadot", nativeBalance("polkadot", "11"), nil)

	waitFor(t, func() bool { return len(c.snapshot()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := len(c.snapshot()); got != 2 {
		t.Fatalf("expected the identical snapshot to be suppressed, got %d updates", got)
	}
	st := o.Status()
	if len(st) != 1 || st[0].Emissions != 2 || st[0].Duplicates != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestSubscribe_ErrorsAreIsolated(t *testing.T) {
	mod := newFakeModule(domain.SourceSubstrateNative)
	o := New(testDirectory(), fakeSource{domain.SourceSubstrateNative: mod}, Config{})
	c := &collector{}

	sub, err := o.Subscribe(context.Background(), modules.AddressesByToken{dotID: {"alice"}, ksmID: {"alice"}}, c.handle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()

	mod.emit(t, "kusama", nil, errors.New("endpoint down"))
	mod.emit(t, "polkadot", nativeBalance("polkadot", "1"), nil)
	mod.emit(t, "kusama", nativeBalance("kusama", "2"), nil)

	waitFor(t, func() bool { return len(c.snapshot()) == 3 })
	var kusama []Update
	for _, u := range c.snapshot() {
		if u.ChainRef == "kusama" {
			kusama = append(kusama, u)
		}
	}
	if len(kusama) != 2 || kusama[0].Err == nil || kusama[1].Balances == nil {
		t.Errorf("expected kusama error then recovery, got %+v", kusama)
	}
}

func TestSubscribe_ResendsUnchangedSnapshotAfterError(t *testing.T) {
	mod := newFakeModule(domain.SourceSubstrateNative)
	o := New(testDirectory(), fakeSource{domain.SourceSubstrateNative: mod}, Config{})
	c := &collector{}

	sub, err := o.Subscribe(context.Background(), modules.AddressesByToken{dotID: {"alice"}}, c.handle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()

	mod.emit(t, "polkadot", nativeBalance("polkadot", "10"), nil)
	mod.emit(t, "polkadot", nil, errors.New("timeout"))
	mod.emit(t, "polkadot", nativeBalance("polkadot", "10"), nil)

	waitFor(t, func() bool { return len(c.snapshot()) == 3 })
	got := c.snapshot()
	if got[1].Err == nil {
		t.Fatalf("expected the error in between, got %+v", got)
	}
	b, ok := got[2].Balances.Get(balance.ID(domain.SourceSubstrateNative, "alice", "polkadot", dotID))
	if !ok || b.Status() != balance.StatusLive {
		t.Errorf("expected live balance after recovery, got %+v", got[2].Balances)
	}
}

func TestSubscribe_PreservesFeedOrder(t *testing.T) {
	mod := newFakeModule(domain.SourceSubstrateNative)
	o := New(testDirectory(), fakeSource{domain.SourceSubstrateNative: mod}, Config{})
	c := &collector{}

	sub, err := o.Subscribe(context.Background(), modules.AddressesByToken{dotID: {"alice"}}, c.handle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()

	const n = 200
	for i := 1; i <= n; i++ {
		mod.emit(t, "polkadot", nativeBalance("polkadot", strconv.Itoa(i)), nil)
	}
	waitFor(t, func() bool { return len(c.snapshot()) == n })
	for i, u := range c.snapshot() {
		if got := u.Balances.Each()[0].Free().String(); got != strconv.Itoa(i+1) {
			t.Fatalf("update %d out of order: got %s", i, got)
		}
	}
}

func TestUnsubscribe_DiscardsLateResultsAndIsIdempotent(t *testing.T) {
	mod := newFakeModule(domain.SourceSubstrateNative)
	o := New(testDirectory(), fakeSource{domain.SourceSubstrateNative: mod}, Config{})
	c := &collector{}

	sub, err := o.Subscribe(context.Background(), modules.AddressesByToken{dotID: {"alice"}}, c.handle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mod.emit(t, "polkadot", nativeBalance("polkadot", "1"), nil)
	waitFor(t, func() bool { return len(c.snapshot()) == 1 })

	sub.Unsubscribe()
	sub.Unsubscribe()
	mod.emit(t, "polkadot", nativeBalance("polkadot", "2"), nil)

	time.Sleep(20 * time.Millisecond)
	if got := len(c.snapshot()); got != 1 {
		t.Errorf("expected no delivery after unsubscribe, got %d updates", got)
	}
	waitFor(t, func() bool { return mod.unsubCount("polkadot") == 1 })
	if len(o.Status()) != 0 {
		t.Error("expected no running feeds")
	}
}

func TestSubscribe_RetriesFailedOpen(t *testing.T) {
	mod := newFakeModule(domain.SourceSubstrateNative)
	var (
		mu       sync.Mutex
		attempts int
	)
	mod.subscribeFn = func(modules.AddressesByToken) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("connection refused")
		}
		return nil
	}
	o := New(testDirectory(), fakeSource{domain.SourceSubstrateNative: mod}, Config{RetryInterval: 5 * time.Millisecond})
	c := &collector{}

	sub, err := o.Subscribe(context.Background(), modules.AddressesByToken{dotID: {"alice"}}, c.handle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()

	mod.emit(t, "polkadot", nativeBalance("polkadot", "5"), nil)
	waitFor(t, func() bool { return len(c.snapshot()) == 2 })
	updates := c.snapshot()
	if updates[0].Err == nil || updates[1].Balances == nil {
		t.Errorf("expected an open error followed by a snapshot, got %+v", updates)
	}
}

func TestSubscribe_UnknownSource(t *testing.T) {
	o := New(testDirectory(), fakeSource{}, Config{})
	_, err := o.Subscribe(context.Background(), modules.AddressesByToken{dotID: {"alice"}}, func(Update) {})
	if !errors.Is(err, domain.ErrProtocolMismatch) {
		t.Errorf("expected ErrProtocolMismatch, got %v", err)
	}
}

func TestFetch_JoinsErrors(t *testing.T) {
	native := newFakeModule(domain.SourceSubstrateNative)
	native.fetchFn = func(req modules.AddressesByToken) (*balance.Balances, error) {
		if chainOf(req) == "kusama" {
			return nil, errors.New("kusama down")
		}
		return nativeBalance("polkadot", "7"), nil
	}
	erc20 := newFakeModule(domain.SourceEvmErc20)
	erc20.fetchFn = func(modules.AddressesByToken) (*balance.Balances, error) {
		return nil, errors.New("network 1 down")
	}
	o := New(testDirectory(), fakeSource{domain.SourceSubstrateNative: native, domain.SourceEvmErc20: erc20}, Config{})

	bs, err := o.Fetch(context.Background(), modules.AddressesByToken{dotID: {"alice"}, ksmID: {"alice"}, usdtID: {"0x01"}})
	if err == nil {
		t.Fatal("expected joined error")
	}
	for _, want := range []string{"kusama down", "network 1 down"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
	if bs.Count() != 1 {
		t.Errorf("expected the healthy chain's balance, got %d", bs.Count())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out")
}
