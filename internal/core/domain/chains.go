package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type ChainID string
type EvmNetworkID string
type TokenID string

// Family groups chains by their RPC model.
type Family string

const (
	FamilySubstrate Family = "substrate"
	FamilyEVM       Family = "evm"
)

// FeeStrategy selects how transfer fees are queried on a state-query chain.
type FeeStrategy string

const (
	// FeeStrategyRuntimeAPI uses state_call TransactionPaymentApi_query_info.
	FeeStrategyRuntimeAPI FeeStrategy = "runtime-api"
	// FeeStrategyLegacy uses the payment_queryInfo RPC.
	FeeStrategyLegacy FeeStrategy = "legacy"
)

// Chain describes a state-query chain.
type Chain struct {
	ID            ChainID
	Name          string
	RPCs          []string
	IsTestnet     bool
	SS58Prefix    uint16
	GenesisHash   string
	FeeStrategy   FeeStrategy
	NativeTokenID TokenID
	SortIndex     int
}

// EvmNetwork describes a contract-call chain.
type EvmNetwork struct {
	ID            EvmNetworkID
	Name          string
	RPCs          []string
	IsTestnet     bool
	NativeTokenID TokenID
	SortIndex     int
}

// Token describes one asset. Exactly one of Chain and EvmNetwork is set,
// matching the family of Type.
type Token struct {
	ID          TokenID
	Type        Source
	Symbol      string
	Decimals    int
	CoingeckoID string
	Chain       ChainID
	EvmNetwork  EvmNetworkID
	IsTestnet   bool

	// ExistentialDeposit is the minimum balance in planck, as a decimal string.
	ExistentialDeposit string
	// OnChainID is the currency id of a fungible tokens pallet entry, written
	// as colon separated variant tags ("Token:DOT", "ForeignAsset:3").
	OnChainID string
	// AssetID is the equilibrium asset id.
	AssetID uint64
	// ContractAddress is the ERC-20 contract.
	ContractAddress string
}

// ChainRef returns the chain or network id the token belongs to.
func (t Token) ChainRef() string {
	if t.EvmNetwork != "" {
		return string(t.EvmNetwork)
	}
	return string(t.Chain)
}

// Account is a tracked address. Hardware accounts sign on an external device.
type Account struct {
	Address  string
	Hardware bool
}

// IsEthereumAddress reports whether addr is a 0x-prefixed 20 byte hex address.
func IsEthereumAddress(addr string) bool {
	return strings.HasPrefix(strings.ToLower(addr), "0x") && common.IsHexAddress(addr)
}
