package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/vietddude/chainwallet/internal/codec/scale"
	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/modules"
)

// Fee is an estimated fee in the smallest unit of the chain's native token.
type Fee struct {
	TokenID domain.TokenID
	Amount  *big.Int
	// Strategy is how the fee was obtained.
	Strategy string
}

const strategyGas = "gas"

// EstimateFee returns the fee tx would pay. State-query chains are asked
// through the strategy configured for the chain; contract-call networks
// pay gas limit times fee price.
func (s *Service) EstimateFee(ctx context.Context, tx *modules.UnsignedTx) (*Fee, error) {
	switch {
	case tx.Substrate != nil:
		return s.substrateFee(ctx, tx)
	case tx.EVM != nil:
		network, err := s.dir.EvmNetwork(tx.EvmNetworkID)
		if err != nil {
			return nil, err
		}
		return &Fee{TokenID: network.NativeTokenID, Amount: tx.EVM.MaxFee(), Strategy: strategyGas}, nil
	}
	return nil, fmt.Errorf("%w: empty transaction", domain.ErrConstruction)
}

func (s *Service) substrateFee(ctx context.Context, tx *modules.UnsignedTx) (*Fee, error) {
	chain, err := s.dir.Chain(tx.ChainID)
	if err != nil {
		return nil, err
	}
	wire, err := tx.Substrate.FakeSigned(tx.SignerPublicKey)
	if err != nil {
		return nil, err
	}

	strategy := chain.FeeStrategy
	if strategy == "" {
		strategy = domain.FeeStrategyRuntimeAPI
	}

	var amount *big.Int
	switch strategy {
	case domain.FeeStrategyLegacy:
		amount, err = s.legacyFee(ctx, chain.ID, wire)
	case domain.FeeStrategyRuntimeAPI:
		amount, err = s.runtimeFee(ctx, chain.ID, wire)
	default:
		return nil, fmt.Errorf("chain %s: unknown fee strategy %q", chain.ID, strategy)
	}
	if err != nil {
		return nil, fmt.Errorf("fee on %s: %w", chain.ID, err)
	}
	return &Fee{TokenID: chain.NativeTokenID, Amount: amount, Strategy: string(strategy)}, nil
}

// runtimeFee calls TransactionPaymentApi.query_info in one state_call.
func (s *Service) runtimeFee(ctx context.Context, chainID domain.ChainID, wire []byte) (*big.Int, error) {
	b, _, err := s.state.Registry(ctx, chainID)
	if err != nil {
		return nil, err
	}

	// the api takes the extrinsic body; its shape adds the length prefix again
	d := scale.NewDecoder(wire)
	if _, err := d.Length(); err != nil {
		return nil, fmt.Errorf("%w: extrinsic length: %v", domain.ErrDecode, err)
	}
	body := wire[d.Offset():]

	method, args, err := b.APICall("TransactionPaymentApi", "query_info", body, uint32(len(wire)))
	if err != nil {
		return nil, err
	}
	res, err := s.state.Send(ctx, chainID, "state_call", []any{method, storage.ToHex(args)})
	if err != nil {
		return nil, err
	}
	var out string
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("%w: query_info result: %v", domain.ErrDecode, err)
	}
	v, err := b.DecodeAPIResult("TransactionPaymentApi", "query_info", out)
	if err != nil {
		return nil, err
	}
	info, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: query_info returned %T", domain.ErrDecode, v)
	}
	fee, ok := info["partialFee"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: query_info without partial fee", domain.ErrDecode)
	}
	return fee, nil
}

type legacyInfo struct {
	PartialFee json.RawMessage `json:"partialFee"`
}

// legacyFee calls the payment_queryInfo RPC. Nodes answer the partial fee
// as a decimal string or a number.
func (s *Service) legacyFee(ctx context.Context, chainID domain.ChainID, wire []byte) (*big.Int, error) {
	res, err := s.state.Send(ctx, chainID, "payment_queryInfo", []any{storage.ToHex(wire)})
	if err != nil {
		return nil, err
	}
	var info legacyInfo
	if err := json.Unmarshal(res, &info); err != nil {
		return nil, fmt.Errorf("%w: payment_queryInfo: %v", domain.ErrDecode, err)
	}
	var raw string
	if err := json.Unmarshal(info.PartialFee, &raw); err != nil {
		raw = string(info.PartialFee)
	}
	fee, ok := new(big.Int).SetString(raw, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("%w: partial fee %q", domain.ErrDecode, raw)
	}
	return fee, nil
}
