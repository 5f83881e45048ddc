package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// UnsignedTx is a transaction ready for an external signer.
type UnsignedTx struct {
	Tx      *types.Transaction
	ChainID *big.Int
	From    common.Address
}

func (u *UnsignedTx) signer() types.Signer {
	return types.LatestSignerForChainID(u.ChainID)
}

// SigningHash is the digest the signer must sign.
func (u *UnsignedTx) SigningHash() common.Hash {
	return u.signer().Hash(u.Tx)
}

// WithSignature attaches a 65 byte [R || S || V] signature and returns the
// encoded transaction.
func (u *UnsignedTx) WithSignature(sig []byte) ([]byte, error) {
	signed, err := u.Tx.WithSignature(u.signer(), sig)
	if err != nil {
		return nil, fmt.Errorf("attach signature: %w", err)
	}
	return signed.MarshalBinary()
}

// MaxFee is the most the transaction can cost in fees.
func (u *UnsignedTx) MaxFee() *big.Int {
	return new(big.Int).Mul(u.Tx.GasFeeCap(), new(big.Int).SetUint64(u.Tx.Gas()))
}

// defaultTip is used when the node does not support eth_maxPriorityFeePerGas.
var defaultTip = big.NewInt(1_000_000_000)

// BuildTx assembles an unsigned transaction from from to to. EIP-1559 fields
// are used when the latest block carries a base fee.
func (c *Client) BuildTx(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (*UnsignedTx, error) {
	if value == nil {
		value = new(big.Int)
	}
	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}

	var (
		chainID, baseFee *big.Int
		nonce, gas       uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { chainID, err = c.ChainID(gctx); return })
	g.Go(func() (err error) { nonce, err = c.Nonce(gctx, from); return })
	g.Go(func() (err error) { gas, err = c.EstimateGas(gctx, msg); return })
	g.Go(func() (err error) { baseFee, err = c.BaseFee(gctx); return })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build tx on %s: %w", c.networkID, err)
	}

	var inner types.TxData
	if baseFee != nil {
		tip, err := c.MaxPriorityFee(ctx)
		if err != nil {
			c.log.Debug("priority fee unavailable, using default", "error", err)
			tip = defaultTip
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
		inner = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		}
	} else {
		gasPrice, err := c.GasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("build tx on %s: %w", c.networkID, err)
		}
		inner = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     data,
		}
	}

	return &UnsignedTx{Tx: types.NewTx(inner), ChainID: chainID, From: from}, nil
}

// WithValue returns a copy of u sending value instead. Gas and fee fields
// are kept.
func (u *UnsignedTx) WithValue(value *big.Int) *UnsignedTx {
	var inner types.TxData
	switch u.Tx.Type() {
	case types.DynamicFeeTxType:
		inner = &types.DynamicFeeTx{
			ChainID:   u.ChainID,
			Nonce:     u.Tx.Nonce(),
			GasTipCap: u.Tx.GasTipCap(),
			GasFeeCap: u.Tx.GasFeeCap(),
			Gas:       u.Tx.Gas(),
			To:        u.Tx.To(),
			Value:     value,
			Data:      u.Tx.Data(),
		}
	default:
		inner = &types.LegacyTx{
			Nonce:    u.Tx.Nonce(),
			GasPrice: u.Tx.GasPrice(),
			Gas:      u.Tx.Gas(),
			To:       u.Tx.To(),
			Value:    value,
			Data:     u.Tx.Data(),
		}
	}
	return &UnsignedTx{Tx: types.NewTx(inner), ChainID: u.ChainID, From: u.From}
}
