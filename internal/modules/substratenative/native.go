// Package substratenative tracks native balances held in System.Account.
package substratenative

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/shape"
	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/modules/statequery"
)

const source = domain.SourceSubstrateNative

// Keep selects the metadata the module reads.
var Keep = []metadata.Selection{
	{Pallet: "System", Items: []string{"Account"}},
	{Pallet: "Balances", Calls: true, Constants: []string{"ExistentialDeposit"}},
}

// Module implements modules.Module for native balances.
type Module struct {
	conn statequery.Connector
	dir  *domain.Directory
	log  *slog.Logger
}

// New creates the module.
func New(conn statequery.Connector, dir *domain.Directory) *Module {
	return &Module{
		conn: conn,
		dir:  dir,
		log:  slog.Default().With("component", "module", "source", source),
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

// FetchChainTokens returns the chain's native token. The first configured
// token supplies symbol and decimals; the existential deposit falls back to
// the chain's constant.
func (m *Module) FetchChainTokens(_ context.Context, chainRef string, meta *modules.ChainMeta, cfg modules.ModuleConfig) (map[domain.TokenID]domain.Token, error) {
	ch, err := m.dir.Chain(domain.ChainID(chainRef))
	if err != nil {
		return nil, err
	}
	if len(cfg.Tokens) == 0 {
		return map[domain.TokenID]domain.Token{}, nil
	}
	tc := cfg.Tokens[0]
	ed := tc.ExistentialDeposit
	if ed == "" && meta != nil {
		ed = meta.ExistentialDeposit
	}

	t := domain.Token{
		ID:                 domain.MakeTokenID(chainRef, source, ""),
		Type:               source,
		Symbol:             tc.Symbol,
		Decimals:           tc.Decimals,
		CoingeckoID:        tc.CoingeckoID,
		Chain:              ch.ID,
		IsTestnet:          ch.IsTestnet,
		ExistentialDeposit: ed,
	}
	return map[domain.TokenID]domain.Token{t.ID: t}, nil
}

func (m *Module) targets(ctx context.Context, chainID domain.ChainID, tokens []domain.Token, req modules.AddressesByToken) ([]statequery.Target, statequery.DecodeFunc, error) {
	b, _, err := m.conn.Registry(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	q, err := b.Storage("System", "Account")
	if err != nil {
		return nil, nil, err
	}

	var targets []statequery.Target
	for _, t := range tokens {
		for _, addr := range req[t.ID] {
			pub, err := statequery.PublicKey(addr)
			if err != nil {
				return nil, nil, err
			}
			key, err := q.Key(pub)
			if err != nil {
				return nil, nil, err
			}
			targets = append(targets, statequery.Target{Key: key, Address: addr, Tokens: []domain.Token{t}})
		}
	}

	decode := func(t statequery.Target, value string) ([]*balance.Balance, error) {
		v, err := q.Decode(value)
		if err != nil {
			return nil, err
		}
		raw, err := accountData(v)
		if err != nil {
			return nil, err
		}
		raw.Source = source
		raw.Status = balance.StatusLive
		raw.Address = t.Address
		raw.ChainID = chainID
		raw.TokenID = t.Tokens[0].ID
		return []*balance.Balance{balance.New(raw, nil)}, nil
	}
	return targets, decode, nil
}

// accountData maps a decoded AccountInfo onto balance amounts. Both the
// legacy (misc/fee frozen) and the current (single frozen) layouts exist.
func accountData(v any) (balance.Storage, error) {
	var raw balance.Storage
	info, ok := v.(map[string]any)
	if !ok {
		return raw, fmt.Errorf("%w: account info is %T", domain.ErrDecode, v)
	}
	data, ok := info["data"].(map[string]any)
	if !ok {
		return raw, fmt.Errorf("%w: account data is %T", domain.ErrDecode, info["data"])
	}

	amount := func(name string) (string, bool, error) {
		x, present := data[name]
		if !present {
			return "", false, nil
		}
		n, ok := x.(*big.Int)
		if !ok {
			return "", true, fmt.Errorf("%w: %s is %T", domain.ErrDecode, name, x)
		}
		return n.String(), true, nil
	}

	var err error
	if raw.Free, _, err = amount("free"); err != nil {
		return raw, err
	}
	if raw.Reserved, _, err = amount("reserved"); err != nil {
		return raw, err
	}
	frozen, hasFrozen, err := amount("frozen")
	if err != nil {
		return raw, err
	}
	if hasFrozen {
		raw.Frozen = frozen
		return raw, nil
	}
	if raw.MiscFrozen, _, err = amount("miscFrozen"); err != nil {
		return raw, err
	}
	if raw.FeeFrozen, _, err = amount("feeFrozen"); err != nil {
		return raw, err
	}
	return raw, nil
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

// TransferToken builds a Balances transfer. Runtimes name the calls
// differently across versions, so each mode has an ordered list of
// candidates.
func (m *Module) TransferToken(ctx context.Context, p modules.TransferParams) (*modules.UnsignedTx, error) {
	if err := modules.CheckToken(p.Token, source); err != nil {
		return nil, err
	}
	dest, err := statequery.PublicKey(p.To)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConstruction, err)
	}
	b, _, err := m.conn.Registry(ctx, p.Token.Chain)
	if err != nil {
		return nil, err
	}

	to := shape.Enum{Tag: "Id", Value: dest}
	amount := p.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	value := map[string]any{"dest": to, "value": amount}

	var candidates []statequery.Candidate
	switch p.Mode {
	case modules.TransferAll:
		candidates = []statequery.Candidate{
			{Pallet: "Balances", Call: "transfer_all", Args: map[string]any{"dest": to, "keep_alive": false}},
		}
	case modules.TransferAllowDeath:
		candidates = []statequery.Candidate{
			{Pallet: "Balances", Call: "transfer_allow_death", Args: value},
			{Pallet: "Balances", Call: "transfer", Args: value},
		}
	default:
		candidates = []statequery.Candidate{
			{Pallet: "Balances", Call: "transfer_keep_alive", Args: value},
			{Pallet: "Balances", Call: "transfer", Args: value},
		}
	}

	call, method, err := statequery.BuildCall(b, candidates)
	if err != nil {
		return nil, err
	}
	return statequery.Prepare(ctx, m.conn, p.Token.Chain, source, p.From, call, method, p.Tip)
}
