// Package evmerc20 tracks ERC-20 token balances.
package evmerc20

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/poll"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/modules/evmquery"
)

const source = domain.SourceEvmErc20

// Module implements modules.Module for ERC-20 contracts.
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

// FetchChainTokens returns one token per configured contract. A missing
// symbol or decimals is read from the contract; contracts that cannot be
// read are logged and skipped.
func (m *Module) FetchChainTokens(ctx context.Context, chainRef string, _ *modules.ChainMeta, cfg modules.ModuleConfig) (map[domain.TokenID]domain.Token, error) {
	n, err := m.dir.EvmNetwork(domain.EvmNetworkID(chainRef))
	if err != nil {
		return nil, err
	}
	client, err := m.conn.Client(n.ID)
	if err != nil {
		return nil, err
	}

	out := make(map[domain.TokenID]domain.Token, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		if !common.IsHexAddress(tc.ContractAddress) {
			m.log.Warn("skipping token with invalid contract", "network", chainRef, "contract", tc.ContractAddress)
			continue
		}
		contract := client.ERC20(common.HexToAddress(tc.ContractAddress))

		symbol, decimals := tc.Symbol, tc.Decimals
		if symbol == "" {
			if symbol, err = contract.Symbol(ctx); err != nil {
				m.log.Warn("skipping token, symbol unavailable", "network", chainRef, "contract", tc.ContractAddress, "error", err)
				continue
			}
		}
		if decimals == 0 {
			d, err := contract.Decimals(ctx)
			if err != nil {
				m.log.Warn("skipping token, decimals unavailable", "network", chainRef, "contract", tc.ContractAddress, "error", err)
				continue
			}
			decimals = int(d)
		}

		address := contract.Address().Hex()
		t := domain.Token{
			ID:              domain.MakeTokenID(chainRef, source, address),
			Type:            source,
			Symbol:          symbol,
			Decimals:        decimals,
			CoingeckoID:     tc.CoingeckoID,
			EvmNetwork:      n.ID,
			IsTestnet:       n.IsTestnet,
			ContractAddress: address,
		}
		out[t.ID] = t
	}
	return out, nil
}

func readToken(ctx context.Context, client *evm.Client, t domain.Token, owners []common.Address) ([]*big.Int, error) {
	return client.ERC20(common.HexToAddress(t.ContractAddress)).BalancesOf(ctx, owners)
}

func (m *Module) FetchBalances(ctx context.Context, req modules.AddressesByToken) (*balance.Balances, error) {
	tokens, err := modules.Resolve(m.dir, source, req, m.log)
	if err != nil {
		return nil, err
	}
	return evmquery.Fetch(ctx, m.conn, source, tokens, req, readToken, m.log)
}

// SubscribeBalances polls the requested balances.
func (m *Module) SubscribeBalances(ctx context.Context, req modules.AddressesByToken, cb modules.Callback) (func(), error) {
	tokens, err := modules.Resolve(m.dir, source, req, m.log)
	if err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context) (*balance.Balances, error) {
		return evmquery.Fetch(ctx, m.conn, source, tokens, req, readToken, m.log)
	}
	return evmquery.Subscribe(ctx, m.poll, fetch, cb), nil
}

// TransferToken builds transfer(to, amount) on the token contract.
// TransferAll reads the sender's balance first.
func (m *Module) TransferToken(ctx context.Context, p modules.TransferParams) (*modules.UnsignedTx, error) {
	if err := modules.CheckToken(p.Token, source); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(p.Token.ContractAddress) {
		return nil, fmt.Errorf("%w: token %s has no contract", domain.ErrConstruction, p.Token.ID)
	}
	from, to, err := evmquery.Addresses(p.From, p.To)
	if err != nil {
		return nil, err
	}
	client, err := m.conn.Client(p.Token.EvmNetwork)
	if err != nil {
		return nil, err
	}
	contract := client.ERC20(common.HexToAddress(p.Token.ContractAddress))

	amount := p.Amount
	if p.Mode == modules.TransferAll {
		if amount, err = contract.BalanceOf(ctx, from); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConstruction, err)
		}
	}
	if amount == nil {
		amount = new(big.Int)
	}
	data, err := evm.PackTransfer(to, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConstruction, err)
	}
	tx, err := client.BuildTx(ctx, from, contract.Address(), nil, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConstruction, err)
	}
	return evmquery.Wrap(source, p.Token, p.From, "transfer", tx), nil
}
