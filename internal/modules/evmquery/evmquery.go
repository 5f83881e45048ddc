// Package evmquery holds what the contract-call modules share: grouping a
// request by network, polling feeds and building transfers.
package evmquery

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/poll"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm"
	"github.com/vietddude/chainwallet/internal/modules"
)

// ReadFunc reads the balances of owners for one token, in owner order.
type ReadFunc func(ctx context.Context, client *evm.Client, token domain.Token, owners []common.Address) ([]*big.Int, error)

// Owners parses the addresses of a request. Addresses that are not
// 0x-prefixed hex are logged and dropped.
func Owners(addresses []string, log *slog.Logger) ([]string, []common.Address) {
	var (
		raw    []string
		owners []common.Address
	)
	for _, a := range addresses {
		if !domain.IsEthereumAddress(a) {
			log.Warn("skipping non-ethereum address", "address", a)
			continue
		}
		raw = append(raw, a)
		owners = append(owners, common.HexToAddress(a))
	}
	return raw, owners
}

// GroupByNetwork splits tokens per network.
func GroupByNetwork(tokens map[domain.TokenID]domain.Token) map[domain.EvmNetworkID][]domain.Token {
	out := make(map[domain.EvmNetworkID][]domain.Token)
	for _, t := range tokens {
		out[t.EvmNetwork] = append(out[t.EvmNetwork], t)
	}
	for _, ts := range out {
		sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
	}
	return out
}

// Fetch reads every requested token, one goroutine per token. Reads on the
// same network share batches.
func Fetch(
	ctx context.Context,
	conn *evm.Connector,
	source domain.Source,
	tokens map[domain.TokenID]domain.Token,
	req modules.AddressesByToken,
	read ReadFunc,
	log *slog.Logger,
) (*balance.Balances, error) {
	var (
		mu  sync.Mutex
		out = balance.NewBalances()
	)
	g, gctx := errgroup.WithContext(ctx)
	for networkID, ts := range GroupByNetwork(tokens) {
		client, err := conn.Client(networkID)
		if err != nil {
			return nil, err
		}
		for _, t := range ts {
			addresses, owners := Owners(req[t.ID], log)
			if len(owners) == 0 {
				continue
			}
			g.Go(func() error {
				amounts, err := read(gctx, client, t, owners)
				if err != nil {
					return fmt.Errorf("token %s on %s: %w", t.ID, networkID, err)
				}
				items := make([]*balance.Balance, len(addresses))
				for i, addr := range addresses {
					items[i] = balance.New(balance.Storage{
						Source:       source,
						Status:       balance.StatusLive,
						Address:      addr,
						EvmNetworkID: networkID,
						TokenID:      t.ID,
						Free:         amounts[i].String(),
					}, nil)
				}
				mu.Lock()
				out = out.Add(items...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe polls fetch on the configured cadence.
func Subscribe(ctx context.Context, cfg poll.Config, fetch poll.FetchFunc, cb modules.Callback) func() {
	return poll.Loop(ctx, cfg, fetch, cb)
}

// Addresses parses the sender and recipient of a transfer.
func Addresses(from, to string) (common.Address, common.Address, error) {
	if !domain.IsEthereumAddress(from) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: sender %q is not an ethereum address", domain.ErrConstruction, from)
	}
	if !domain.IsEthereumAddress(to) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: recipient %q is not an ethereum address", domain.ErrConstruction, to)
	}
	return common.HexToAddress(from), common.HexToAddress(to), nil
}

// Wrap turns a built transaction into a module transaction.
func Wrap(source domain.Source, token domain.Token, from, method string, tx *evm.UnsignedTx) *modules.UnsignedTx {
	return &modules.UnsignedTx{
		Source:       source,
		EvmNetworkID: token.EvmNetwork,
		From:         from,
		Method:       method,
		EVM:          tx,
	}
}
