// Package evmnative tracks the native coin of contract-call networks.
package evmnative

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/poll"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/modules/evmquery"
)

const source = domain.SourceEvmNative

// Module implements modules.Module for native coins.
type Module struct {
	conn *evm.Connector
	dir  *domain.Directory
	poll poll.Config
	log  *slog.Logger
}

// New creates the module. Feeds poll with cfg.
func New(conn *evm.Connector, dir *domain.Directory, cfg poll.Config) *Module {
	return &Module{
		conn: conn,
		dir:  dir,
		poll: cfg,
		log:  slog.Default().With("component", "module", "source", source),
	}
}

func (m *Module) Source() domain.Source { return source }

func (m *Module) FetchChainMeta(_ context.Context, chainRef string) (*modules.ChainMeta, error) {
	n, err := m.dir.EvmNetwork(domain.EvmNetworkID(chainRef))
	if err != nil {
		return nil, err
	}
	return &modules.ChainMeta{ChainRef: chainRef, IsTestnet: n.IsTestnet}, nil
}

// FetchChainTokens returns the network's native coin from the first
// configured token.
func (m *Module) FetchChainTokens(_ context.Context, chainRef string, _ *modules.ChainMeta, cfg modules.ModuleConfig) (map[domain.TokenID]domain.Token, error) {
	n, err := m.dir.EvmNetwork(domain.EvmNetworkID(chainRef))
	if err != nil {
		return nil, err
	}
	if len(cfg.Tokens) == 0 {
		return map[domain.TokenID]domain.Token{}, nil
	}
	tc := cfg.Tokens[0]
	t := domain.Token{
		ID:          domain.MakeTokenID(chainRef, source, ""),
		Type:        source,
		Symbol:      tc.Symbol,
		Decimals:    tc.Decimals,
		CoingeckoID: tc.CoingeckoID,
		EvmNetwork:  n.ID,
		IsTestnet:   n.IsTestnet,
	}
	return map[domain.TokenID]domain.Token{t.ID: t}, nil
}

func readNative(ctx context.Context, client *evm.Client, _ domain.Token, owners []common.Address) ([]*big.Int, error) {
	out := make([]*big.Int, len(owners))
	g, ctx := errgroup.WithContext(ctx)
	for i, owner := range owners {
		g.Go(func() (err error) {
			out[i], err = client.GetBalance(ctx, owner)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Module) FetchBalances(ctx context.Context, req modules.AddressesByToken) (*balance.Balances, error) {
	tokens, err := modules.Resolve(m.dir, source, req, m.log)
	if err != nil {
		return nil, err
	}
	return evmquery.Fetch(ctx, m.conn, source, tokens, req, readNative, m.log)
}

// SubscribeBalances polls the requested balances.
func (m *Module) SubscribeBalances(ctx context.Context, req modules.AddressesByToken, cb modules.Callback) (func(), error) {
	tokens, err := modules.Resolve(m.dir, source, req, m.log)
	if err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context) (*balance.Balances, error) {
		return evmquery.Fetch(ctx, m.conn, source, tokens, req, readNative, m.log)
	}
	return evmquery.Subscribe(ctx, m.poll, fetch, cb), nil
}

// TransferToken builds a value transfer. TransferAll sends the balance
// minus the most the transaction can cost.
func (m *Module) TransferToken(ctx context.Context, p modules.TransferParams) (*modules.UnsignedTx, error) {
	if err := modules.CheckToken(p.Token, source); err != nil {
		return nil, err
	}
	from, to, err := evmquery.Addresses(p.From, p.To)
	if err != nil {
		return nil, err
	}
	client, err := m.conn.Client(p.Token.EvmNetwork)
	if err != nil {
		return nil, err
	}

	if p.Mode != modules.TransferAll {
		tx, err := client.BuildTx(ctx, from, to, p.Amount, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConstruction, err)
		}
		return evmquery.Wrap(source, p.Token, p.From, "transfer", tx), nil
	}

	var (
		bal *big.Int
		tx  *evm.UnsignedTx
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { bal, err = client.GetBalance(gctx, from); return })
	g.Go(func() (err error) { tx, err = client.BuildTx(gctx, from, to, new(big.Int), nil); return })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConstruction, err)
	}
	amount := new(big.Int).Sub(bal, tx.MaxFee())
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: balance %s does not cover fee %s", domain.ErrConstruction, bal, tx.MaxFee())
	}
	return evmquery.Wrap(source, p.Token, p.From, "transfer", tx.WithValue(amount)), nil
}
