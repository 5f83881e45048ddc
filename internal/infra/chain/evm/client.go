// Package evm is the connector for contract-call networks.
//
// Each network gets a Client that routes JSON-RPC over its endpoint list
// with health-checked fallback. Every endpoint is wrapped in a batcher so
// concurrent calls share one wire request.
package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/infra/rpc/batch"
	"github.com/vietddude/chainwallet/internal/infra/rpc/provider"
	"github.com/vietddude/chainwallet/internal/infra/rpc/routing"
)

// Config holds transport settings shared by every network.
type Config struct {
	Timeout     time.Duration
	BatchWindow time.Duration
	BatchSize   int
}

// Client talks to one network.
type Client struct {
	networkID domain.EvmNetworkID
	rpc       provider.RPCProvider
	router    *routing.Router
	log       *slog.Logger
}

// NewClient builds a client over urls in priority order.
func NewClient(networkID domain.EvmNetworkID, urls []string, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var router *routing.Router
	providers := make([]provider.RPCProvider, 0, len(urls))
	for i, url := range urls {
		hp := provider.NewHTTPProvider(fmt.Sprintf("%s-%d", networkID, i), url, cfg.Timeout)
		providers = append(providers, batch.New(hp, batch.Config{
			Chain:   string(networkID),
			Window:  cfg.BatchWindow,
			MaxSize: cfg.BatchSize,
			Timeout: cfg.Timeout,
			OnBatchFailed: func(p provider.RPCProvider, err error) {
				router.RecordFailure(p.GetName(), err)
			},
		}))
	}
	router = routing.NewRouter(string(networkID), providers)

	return &Client{
		networkID: networkID,
		rpc:       router,
		router:    router,
		log:       slog.Default().With("component", "evm-client", "network", networkID),
	}
}

// NewClientWithProvider wraps an existing provider. Used by tests.
func NewClientWithProvider(networkID domain.EvmNetworkID, p provider.RPCProvider) *Client {
	return &Client{
		networkID: networkID,
		rpc:       p,
		log:       slog.Default().With("component", "evm-client", "network", networkID),
	}
}

// NetworkID returns the network this client serves.
func (c *Client) NetworkID() domain.EvmNetworkID {
	return c.networkID
}

// Call makes a raw JSON-RPC call.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	return c.rpc.Call(ctx, method, params)
}

func (c *Client) callInto(ctx context.Context, out any, method string, params ...any) error {
	raw, err := c.rpc.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", method, raw, err)
	}
	return nil
}

// EthCall runs a read-only contract call at the latest block.
func (c *Client) EthCall(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out hexutil.Bytes
	if err := c.callInto(ctx, &out, "eth_call", toCallArg(msg), "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalance returns the native balance of addr in wei.
func (c *Client) GetBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out hexutil.Big
	if err := c.callInto(ctx, &out, "eth_getBalance", addr, "latest"); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var out hexutil.Big
	if err := c.callInto(ctx, &out, "eth_chainId"); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}

// Nonce returns the pending nonce of addr.
func (c *Client) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	var out hexutil.Uint64
	if err := c.callInto(ctx, &out, "eth_getTransactionCount", addr, "pending"); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

// EstimateGas estimates the gas needed to execute msg.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var out hexutil.Uint64
	if err := c.callInto(ctx, &out, "eth_estimateGas", toCallArg(msg)); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

// GasPrice returns the legacy gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var out hexutil.Big
	if err := c.callInto(ctx, &out, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}

// MaxPriorityFee returns the suggested EIP-1559 tip.
func (c *Client) MaxPriorityFee(ctx context.Context) (*big.Int, error) {
	var out hexutil.Big
	if err := c.callInto(ctx, &out, "eth_maxPriorityFeePerGas"); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}

// BaseFee returns the latest block base fee, or nil on pre-London networks.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	var head struct {
		BaseFee *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := c.callInto(ctx, &head, "eth_getBlockByNumber", "latest", false); err != nil {
		return nil, err
	}
	if head.BaseFee == nil {
		return nil, nil
	}
	return head.BaseFee.ToInt(), nil
}

// SendRawTransaction submits a signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var out common.Hash
	if err := c.callInto(ctx, &out, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, err
	}
	return out, nil
}

// Endpoints reports endpoint health, or nil for a client built on a single provider.
func (c *Client) Endpoints() []routing.EndpointStatus {
	if c.router == nil {
		return nil
	}
	return c.router.Status()
}

// Close releases every endpoint.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func toCallArg(msg ethereum.CallMsg) map[string]any {
	arg := map[string]any{
		"from": msg.From,
	}
	if msg.To != nil {
		arg["to"] = msg.To
	}
	if len(msg.Data) > 0 {
		arg["input"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	if msg.GasPrice != nil {
		arg["gasPrice"] = (*hexutil.Big)(msg.GasPrice)
	}
	if msg.GasFeeCap != nil {
		arg["maxFeePerGas"] = (*hexutil.Big)(msg.GasFeeCap)
	}
	if msg.GasTipCap != nil {
		arg["maxPriorityFeePerGas"] = (*hexutil.Big)(msg.GasTipCap)
	}
	return arg
}
