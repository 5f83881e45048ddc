// Package substratetokens tracks fungible tokens held in Tokens.Accounts,
// keyed by (account, currency id).
package substratetokens

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/shape"
	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/modules/statequery"
)

const source = domain.SourceSubstrateTokens

// Keep selects the metadata the module reads.
var Keep = []metadata.Selection{
	{Pallet: "Tokens", Items: []string{"Accounts"}, Calls: true},
	{Pallet: "Currencies", Calls: true},
	{Pallet: "Balances", Constants: []string{"ExistentialDeposit"}},
}

// Module implements modules.Module for the fungible tokens pallet.
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

// FetchChainTokens returns one token per configured currency. Entries
// without an on-chain id are skipped.
func (m *Module) FetchChainTokens(_ context.Context, chainRef string, _ *modules.ChainMeta, cfg modules.ModuleConfig) (map[domain.TokenID]domain.Token, error) {
	ch, err := m.dir.Chain(domain.ChainID(chainRef))
	if err != nil {
		return nil, err
	}
	out := make(map[domain.TokenID]domain.Token, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		if tc.OnChainID == "" || tc.Symbol == "" {
			m.log.Warn("skipping token without on-chain id or symbol", "chain", chainRef, "symbol", tc.Symbol)
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
			OnChainID:          tc.OnChainID,
		}
		out[t.ID] = t
	}
	return out, nil
}

// CurrencyID turns a colon separated on-chain id into a variant value:
// "Token:DOT" is Token(DOT), "ForeignAsset:3" is ForeignAsset(3).
func CurrencyID(onChainID string) (any, error) {
	parts := strings.Split(onChainID, ":")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: on-chain id %q", domain.ErrConstruction, onChainID)
		}
	}
	var v any = parts[len(parts)-1]
	for i := len(parts) - 2; i >= 0; i-- {
		v = shape.Enum{Tag: parts[i], Value: v}
	}
	return v, nil
}

func (m *Module) targets(ctx context.Context, chainID domain.ChainID, tokens []domain.Token, req modules.AddressesByToken) ([]statequery.Target, statequery.DecodeFunc, error) {
	b, _, err := m.conn.Registry(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	q, err := b.Storage("Tokens", "Accounts")
	if err != nil {
		return nil, nil, err
	}

	var targets []statequery.Target
	for _, t := range tokens {
		currency, err := CurrencyID(t.OnChainID)
		if err != nil {
			return nil, nil, fmt.Errorf("token %s: %w", t.ID, err)
		}
		for _, addr := range req[t.ID] {
			pub, err := statequery.PublicKey(addr)
			if err != nil {
				return nil, nil, err
			}
			key, err := q.Key(pub, currency)
			if err != nil {
				return nil, nil, fmt.Errorf("token %s: %w", t.ID, err)
			}
			targets = append(targets, statequery.Target{Key: key, Address: addr, Tokens: []domain.Token{t}})
		}
	}

	decode := func(t statequery.Target, value string) ([]*balance.Balance, error) {
		v, err := q.Decode(value)
		if err != nil {
			return nil, err
		}
		data, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: token account is %T", domain.ErrDecode, v)
		}
		raw := balance.Storage{
			Source:  source,
			Status:  balance.StatusLive,
			Address: t.Address,
			ChainID: chainID,
			TokenID: t.Tokens[0].ID,
		}
		for field, dst := range map[string]*string{"free": &raw.Free, "reserved": &raw.Reserved, "frozen": &raw.Frozen} {
			n, ok := data[field].(*big.Int)
			if !ok {
				return nil, fmt.Errorf("%w: %s is %T", domain.ErrDecode, field, data[field])
			}
			*dst = n.String()
		}
		return []*balance.Balance{balance.New(raw, nil)}, nil
	}
	return targets, decode, nil
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

// TransferToken builds a currency transfer. Chains with a Currencies pallet
// route every currency through it; the rest expose Tokens.transfer.
func (m *Module) TransferToken(ctx context.Context, p modules.TransferParams) (*modules.UnsignedTx, error) {
	if err := modules.CheckToken(p.Token, source); err != nil {
		return nil, err
	}
	dest, err := statequery.PublicKey(p.To)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConstruction, err)
	}
	currency, err := CurrencyID(p.Token.OnChainID)
	if err != nil {
		return nil, err
	}
	b, _, err := m.conn.Registry(ctx, p.Token.Chain)
	if err != nil {
		return nil, err
	}

	amount := p.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	to := shape.Enum{Tag: "Id", Value: dest}
	candidates := []statequery.Candidate{
		{Pallet: "Currencies", Call: "transfer", Args: map[string]any{"dest": to, "currencyId": currency, "amount": amount}},
		{Pallet: "Tokens", Call: "transfer", Args: map[string]any{"dest": to, "currencyId": currency, "amount": amount}},
	}
	if p.Mode == modules.TransferAll {
		candidates = []statequery.Candidate{
			{Pallet: "Tokens", Call: "transfer_all", Args: map[string]any{"dest": to, "currencyId": currency, "keepAlive": false}},
		}
	}

	call, method, err := statequery.BuildCall(b, candidates)
	if err != nil {
		return nil, err
	}
	return statequery.Prepare(ctx, m.conn, p.Token.Chain, source, p.From, call, method, p.Tip)
}
