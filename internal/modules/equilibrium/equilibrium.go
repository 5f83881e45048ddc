// Package equilibrium tracks multi-asset accounts whose System.Account data
// holds a vector of (asset, signed balance) pairs.
//
// One storage read per address serves every configured asset of that
// address. Decoded records are cached per (chain, address) so repeated
// values, from a poll or a subscription, decode once.
package equilibrium

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/shape"
	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/modules/statequery"
)

const source = domain.SourceSubstrateEquilibrium

// Keep selects the metadata the module reads.
var Keep = []metadata.Selection{
	{Pallet: "System", Items: []string{"Account"}},
	{Pallet: "EqBalances", Calls: true},
}

// record is the decoded asset vector of one account. Negative balances are
// debt and read as zero.
type record struct {
	value  string
	assets map[uint64]*big.Int
}

// Module implements modules.Module for equilibrium-style chains.
type Module struct {
	conn statequery.Connector
	dir  *domain.Directory
	log  *slog.Logger

	mu      sync.Mutex
	records map[string]record
	decodes int
}

// New creates the module.
func New(conn statequery.Connector, dir *domain.Directory) *Module {
	return &Module{
		conn:    conn,
		dir:     dir,
		log:     slog.Default().With("component", "module", "source", source),
		records: make(map[string]record),
	}
}

func (m *Module) Source() domain.Source { return source }

func (m *Module) FetchChainMeta(ctx context.Context, chainRef string) (*modules.ChainMeta, error) {
	ch, err := m.dir.Chain(domain.ChainID(chainRef))
	if err != nil {
		return nil, err
	}
	return statequery.FetchChainMeta(ctx, m.conn, ch, metadata.Keep{Pallets: Keep, Extrinsic: true})
}

// FetchChainTokens returns one token per configured asset id.
func (m *Module) FetchChainTokens(_ context.Context, chainRef string, _ *modules.ChainMeta, cfg modules.ModuleConfig) (map[domain.TokenID]domain.Token, error) {
	ch, err := m.dir.Chain(domain.ChainID(chainRef))
	if err != nil {
		return nil, err
	}
	out := make(map[domain.TokenID]domain.Token, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		if tc.AssetID == 0 || tc.Symbol == "" {
			m.log.Warn("skipping asset without id or symbol", "chain", chainRef, "symbol", tc.Symbol)
			continue
		}
		t := domain.Token{
			ID:                 domain.MakeTokenID(chainRef, source, tc.Symbol),
			Type:               source,
			Symbol:             tc.Symbol,
			Decimals:           tc.Decimals,
			CoingeckoID:        tc.CoingeckoID,
			Chain:              ch.ID,
			IsTestnet:          ch.IsTestnet,
			ExistentialDeposit: tc.ExistentialDeposit,
			AssetID:            tc.AssetID,
		}
		out[t.ID] = t
	}
	return out, nil
}

// targets builds one target per address carrying every requested asset of
// that address.
func (m *Module) targets(ctx context.Context, chainID domain.ChainID, tokens []domain.Token, req modules.AddressesByToken) ([]statequery.Target, statequery.DecodeFunc, error) {
	b, _, err := m.conn.Registry(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	q, err := b.Storage("System", "Account")
	if err != nil {
		return nil, nil, err
	}

	byAddress := make(map[string][]domain.Token)
	for _, t := range tokens {
		for _, addr := range req[t.ID] {
			byAddress[addr] = append(byAddress[addr], t)
		}
	}
	addresses := make([]string, 0, len(byAddress))
	for addr := range byAddress {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	targets := make([]statequery.Target, 0, len(addresses))
	for _, addr := range addresses {
		pub, err := statequery.PublicKey(addr)
		if err != nil {
			return nil, nil, err
		}
		key, err := q.Key(pub)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, statequery.Target{Key: key, Address: addr, Tokens: byAddress[addr]})
	}

	decode := func(t statequery.Target, value string) ([]*balance.Balance, error) {
		rec, err := m.record(q, chainID, t.Address, value)
		if err != nil {
			return nil, err
		}
		out := make([]*balance.Balance, 0, len(t.Tokens))
		for _, tok := range t.Tokens {
			free := "0"
			if n, ok := rec.assets[tok.AssetID]; ok {
				free = n.String()
			}
			out = append(out, balance.New(balance.Storage{
				Source:  source,
				Status:  balance.StatusLive,
				Address: t.Address,
				ChainID: chainID,
				TokenID: tok.ID,
				Free:    free,
			}, nil))
		}
		return out, nil
	}
	return targets, decode, nil
}

func (m *Module) record(q *storage.Query, chainID domain.ChainID, address, value string) (record, error) {
	key := string(chainID) + "|" + address
	m.mu.Lock()
	rec, ok := m.records[key]
	m.mu.Unlock()
	if ok && rec.value == value {
		return rec, nil
	}

	v, err := q.Decode(value)
	if err != nil {
		return record{}, err
	}
	assets, err := assetBalances(v)
	if err != nil {
		return record{}, err
	}
	rec = record{value: value, assets: assets}

	m.mu.Lock()
	m.records[key] = rec
	m.decodes++
	m.mu.Unlock()
	return rec, nil
}

// assetBalances reads the V0 { lock, balance: [(asset, signed)] } layout.
func assetBalances(v any) (map[uint64]*big.Int, error) {
	info, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: account info is %T", domain.ErrDecode, v)
	}
	data, ok := info["data"].(shape.Enum)
	if !ok {
		return nil, fmt.Errorf("%w: account data is %T", domain.ErrDecode, info["data"])
	}
	fields, ok := data.Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: account data %s is %T", domain.ErrDecode, data.Tag, data.Value)
	}
	entries, ok := fields["balance"].([]any)
	if !ok && fields["balance"] != nil {
		return nil, fmt.Errorf("%w: balance vector is %T", domain.ErrDecode, fields["balance"])
	}

	out := make(map[uint64]*big.Int, len(entries))
	for _, e := range entries {
		pair, ok := e.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: balance entry is %T", domain.ErrDecode, e)
		}
		asset, ok := pair[0].(uint64)
		if !ok {
			return nil, fmt.Errorf("%w: asset is %T", domain.ErrDecode, pair[0])
		}
		signed, ok := pair[1].(shape.Enum)
		if !ok {
			return nil, fmt.Errorf("%w: signed balance is %T", domain.ErrDecode, pair[1])
		}
		amount, ok := signed.Value.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: amount is %T", domain.ErrDecode, signed.Value)
		}
		if signed.Tag == "Negative" {
			amount = new(big.Int)
		}
		out[asset] = amount
	}
	return out, nil
}

func (m *Module) FetchBalances(ctx context.Context, req modules.AddressesByToken) (*balance.Balances, error) {
	tokens, err := modules.Resolve(m.dir, source, req, m.log)
	if err != nil {
		return nil, err
	}
	return statequery.FetchGrouped(ctx, m.conn, tokens, m.targetsFor(req))
}

func (m *Module) SubscribeBalances(ctx context.Context, req modules.AddressesByToken, cb modules.Callback) (func(), error) {
	tokens, err := modules.Resolve(m.dir, source, req, m.log)
	if err != nil {
		return nil, err
	}
	return statequery.SubscribeGrouped(ctx, m.conn, tokens, m.targetsFor(req), cb)
}

func (m *Module) targetsFor(req modules.AddressesByToken) statequery.TargetsFunc {
	return func(ctx context.Context, chainID domain.ChainID, tokens []domain.Token) ([]statequery.Target, statequery.DecodeFunc, error) {
		return m.targets(ctx, chainID, tokens, req)
	}
}

// TransferToken builds EqBalances.transfer(asset, to, value).
func (m *Module) TransferToken(ctx context.Context, p modules.TransferParams) (*modules.UnsignedTx, error) {
	if err := modules.CheckToken(p.Token, source); err != nil {
		return nil, err
	}
	if p.Mode == modules.TransferAll {
		return nil, fmt.Errorf("%w: %s does not support transfer all", domain.ErrConstruction, source)
	}
	dest, err := statequery.PublicKey(p.To)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConstruction, err)
	}
	b, _, err := m.conn.Registry(ctx, p.Token.Chain)
	if err != nil {
		return nil, err
	}

	amount := p.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	call, method, err := statequery.BuildCall(b, []statequery.Candidate{
		{Pallet: "EqBalances", Call: "transfer", Args: map[string]any{"asset": p.Token.AssetID, "to": dest, "value": amount}},
	})
	if err != nil {
		return nil, err
	}
	return statequery.Prepare(ctx, m.conn, p.Token.Chain, source, p.From, call, method, p.Tip)
}
