package statequery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/infra/chain/substrate"
	"github.com/vietddude/chainwallet/internal/modules"
)

// Target is one storage key and the balances its value yields.
type Target struct {
	Key     string
	Address string
	Tokens  []domain.Token
}

// DecodeFunc turns the value of a target's key into balances. value is
// empty when the key is absent.
type DecodeFunc func(t Target, value string) ([]*balance.Balance, error)

// Fetch reads every target once.
func Fetch(ctx context.Context, conn Connector, chainID domain.ChainID, targets []Target, decode DecodeFunc) (*balance.Balances, error) {
	if len(targets) == 0 {
		return balance.NewBalances(), nil
	}
	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = t.Key
	}
	values, _, err := QueryStorage(ctx, conn, chainID, keys)
	if err != nil {
		return nil, err
	}

	var items []*balance.Balance
	for _, t := range targets {
		bs, err := decode(t, values[t.Key])
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", t.Address, chainID, err)
		}
		items = append(items, bs...)
	}
	return balance.NewBalances(items...), nil
}

// Subscribe watches every target and reports the full set of balances
// after each change. Nothing is reported until the node has sent a value
// for every target.
func Subscribe(
	ctx context.Context,
	conn Connector,
	chainID domain.ChainID,
	targets []Target,
	decode DecodeFunc,
	cb modules.Callback,
) (func(), error) {
	if len(targets) == 0 {
		return func() {}, nil
	}
	byKey := make(map[string][]Target, len(targets))
	keys := make([]string, 0, len(targets))
	for _, t := range targets {
		if _, ok := byKey[t.Key]; !ok {
			keys = append(keys, t.Key)
		}
		byKey[t.Key] = append(byKey[t.Key], t)
	}

	var (
		mu    sync.Mutex
		state = make(map[string][]*balance.Balance, len(keys))
	)
	return SubscribeStorage(ctx, conn, chainID, keys, func(changes Changes, _ string, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		mu.Lock()
		defer mu.Unlock()
		for key, value := range changes {
			ts, ok := byKey[key]
			if !ok {
				continue
			}
			var items []*balance.Balance
			for _, t := range ts {
				bs, err := decode(t, value)
				if err != nil {
					cb(nil, fmt.Errorf("%s on %s: %w", t.Address, chainID, err))
					return
				}
				items = append(items, bs...)
			}
			state[key] = items
		}
		if len(state) < len(keys) {
			return
		}

		var all []*balance.Balance
		for _, k := range keys {
			all = append(all, state[k]...)
		}
		cb(balance.NewBalances(all...), nil)
	})
}

// GroupByChain splits resolved tokens by chain.
func GroupByChain(tokens map[domain.TokenID]domain.Token) map[domain.ChainID][]domain.Token {
	out := make(map[domain.ChainID][]domain.Token)
	for _, t := range tokens {
		out[t.Chain] = append(out[t.Chain], t)
	}
	for _, ts := range out {
		sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
	}
	return out
}

// ChainIDs returns the keys of a grouping in order.
func ChainIDs(groups map[domain.ChainID][]domain.Token) []domain.ChainID {
	out := make([]domain.ChainID, 0, len(groups))
	for id := range groups {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TargetsFunc builds the targets of one chain and the decoder for their values.
type TargetsFunc func(ctx context.Context, chainID domain.ChainID, tokens []domain.Token) ([]Target, DecodeFunc, error)

// FetchGrouped reads every chain of tokens in parallel and merges the results.
func FetchGrouped(ctx context.Context, conn Connector, tokens map[domain.TokenID]domain.Token, build TargetsFunc) (*balance.Balances, error) {
	groups := GroupByChain(tokens)
	ids := ChainIDs(groups)

	results := make([]*balance.Balances, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, chainID := range ids {
		g.Go(func() error {
			targets, decode, err := build(gctx, chainID, groups[chainID])
			if err != nil {
				return err
			}
			results[i], err = Fetch(gctx, conn, chainID, targets, decode)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := balance.NewBalances()
	for _, r := range results {
		out = out.Merge(r)
	}
	return out, nil
}

// SubscribeGrouped opens one storage subscription per chain of tokens.
// Targets and decoder are built again, and the subscription reopened, when
// the chain's runtime spec version changes.
func SubscribeGrouped(ctx context.Context, conn Connector, tokens map[domain.TokenID]domain.Token, build TargetsFunc, cb modules.Callback) (func(), error) {
	groups := GroupByChain(tokens)
	return modules.SubscribeAll(ChainIDs(groups), func(chainID domain.ChainID) (func(), error) {
		return subscribeChain(ctx, conn, chainID, groups[chainID], build, cb)
	})
}

const (
	upgradeTimeout = 30 * time.Second
	upgradeRetry   = 10 * time.Second
)

// chainSub is the storage subscription of one chain, bound to the runtime
// its shapes were derived from.
type chainSub struct {
	conn    Connector
	chainID domain.ChainID
	tokens  []domain.Token
	build   TargetsFunc
	cb      modules.Callback
	log     *slog.Logger

	upgrading sync.Mutex

	mu      sync.Mutex
	spec    uint32
	want    uint32
	gen     int
	unsub   func()
	retry   *time.Timer
	stopped bool
}

func subscribeChain(ctx context.Context, conn Connector, chainID domain.ChainID, tokens []domain.Token, build TargetsFunc, cb modules.Callback) (func(), error) {
	s := &chainSub{
		conn:    conn,
		chainID: chainID,
		tokens:  tokens,
		build:   build,
		cb:      cb,
		log:     slog.Default().With("component", "statequery", "chain", chainID),
	}
	_, rv, err := conn.Registry(ctx, chainID)
	if err != nil {
		return nil, err
	}
	s.want = rv.SpecVersion
	if err := s.open(ctx, rv.SpecVersion); err != nil {
		return nil, err
	}

	unwatch, err := conn.SubscribeRuntimeVersion(ctx, chainID, s.onRuntime)
	if err != nil {
		s.stop()
		return nil, err
	}
	return func() {
		unwatch()
		s.stop()
	}, nil
}

// open builds targets for the current runtime and swaps in a new storage
// subscription. Results of older subscriptions are dropped from here on.
func (s *chainSub) open(ctx context.Context, spec uint32) error {
	targets, decode, err := s.build(ctx, s.chainID, s.tokens)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	unsub, err := Subscribe(ctx, s.conn, s.chainID, targets, decode, func(bs *balance.Balances, err error) {
		s.mu.Lock()
		current := gen == s.gen && !s.stopped
		s.mu.Unlock()
		if current {
			s.cb(bs, err)
		}
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		unsub()
		return nil
	}
	old := s.unsub
	s.unsub = unsub
	s.spec = spec
	s.mu.Unlock()
	if old != nil {
		old()
	}
	return nil
}

func (s *chainSub) onRuntime(rv substrate.RuntimeVersion, err error) {
	if err != nil {
		// The storage subscription reports lost connections itself.
		s.log.Debug("runtime version subscription error", "error", err)
		return
	}
	s.mu.Lock()
	s.want = rv.SpecVersion
	changed := !s.stopped && s.want != s.spec
	s.mu.Unlock()
	if changed {
		go s.upgrade()
	}
}

// upgrade reopens the subscription for the wanted spec version. On failure
// the stale subscription is closed, the error reported, and the upgrade
// retried later.
func (s *chainSub) upgrade() {
	s.upgrading.Lock()
	defer s.upgrading.Unlock()

	s.mu.Lock()
	want, have, stopped := s.want, s.spec, s.stopped
	s.mu.Unlock()
	if stopped || want == have {
		return
	}

	s.log.Info("runtime upgraded, resubscribing", "from", have, "to", want)
	ctx, cancel := context.WithTimeout(context.Background(), upgradeTimeout)
	defer cancel()
	err := s.open(ctx, want)
	if err == nil {
		return
	}

	s.mu.Lock()
	old := s.unsub
	s.unsub = nil
	s.gen++
	if !s.stopped {
		s.retry = time.AfterFunc(upgradeRetry, s.upgrade)
	}
	s.mu.Unlock()
	if old != nil {
		old()
	}
	s.log.Warn("resubscribe after runtime upgrade failed", "spec_version", want, "error", err)
	s.cb(nil, fmt.Errorf("%s runtime %d: %w", s.chainID, want, err))
}

func (s *chainSub) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	unsub := s.unsub
	s.unsub = nil
	if s.retry != nil {
		s.retry.Stop()
	}
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
