package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// ERC20 reads one token contract.
type ERC20 struct {
	client  *Client
	address common.Address
}

// ERC20 returns a reader for the token at address.
func (c *Client) ERC20(address common.Address) *ERC20 {
	return &ERC20{client: c, address: address}
}

// Address returns the contract address.
func (t *ERC20) Address() common.Address {
	return t.address
}

func (t *ERC20) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := t.client.EthCall(ctx, ethereum.CallMsg{To: &t.address, Data: data})
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s from %s: %w", method, t.address.Hex(), err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: empty result from %s", method, t.address.Hex())
	}
	return values, nil
}

// BalanceOf returns owner's balance in the token's smallest unit.
func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := t.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected type %T", values[0])
	}
	return balance, nil
}

// BalancesOf reads several owners concurrently. The calls share batches.
func (t *ERC20) BalancesOf(ctx context.Context, owners []common.Address) ([]*big.Int, error) {
	out := make([]*big.Int, len(owners))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(20)
	for i, owner := range owners {
		g.Go(func() error {
			b, err := t.BalanceOf(ctx, owner)
			if err != nil {
				return fmt.Errorf("balance of %s: %w", owner.Hex(), err)
			}
			out[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Symbol returns the token symbol.
func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	values, err := t.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	symbol, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol: unexpected type %T", values[0])
	}
	return symbol, nil
}

// Decimals returns the token decimals.
func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	values, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}
	return decimals, nil
}

// PackTransfer encodes transfer(to, amount) calldata.
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

// PackBalanceOf encodes balanceOf(owner) calldata.
func PackBalanceOf(owner common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", owner)
}
