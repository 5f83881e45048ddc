package config

import (
	"time"

	"github.com/vietddude/chainwallet/internal/core/domain"
	redisclient "github.com/vietddude/chainwallet/internal/infra/redis"
	"github.com/vietddude/chainwallet/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Poll          PollConfig          `yaml:"poll"`
	Batch         BatchConfig         `yaml:"batch"`
	RPC           RPCConfig           `yaml:"rpc"`
	Persist       PersistConfig       `yaml:"persist"`
	MetadataCache MetadataCacheConfig `yaml:"metadata_cache"`
	Database      postgres.Config     `yaml:"database"`

	Chains      []ChainConfig      `yaml:"chains"       validate:"dive"`
	EvmNetworks []EvmNetworkConfig `yaml:"evm_networks" validate:"dive"`
	Accounts    []AccountConfig    `yaml:"accounts"     validate:"dive"`
	// TokenRates maps token ids to fiat rates per lowercase currency.
	TokenRates map[string]map[string]float64 `yaml:"token_rates"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port" validate:"min=0,max=65535"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"  validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// PollConfig tunes balance polling on contract-call networks.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	// ZeroBalanceEvery polls all-zero feeds only every Nth tick.
	ZeroBalanceEvery int `yaml:"zero_balance_every" validate:"min=0"`
	// RetryInterval is the wait before reopening a failed feed.
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// BatchConfig controls JSON-RPC batching.
type BatchConfig struct {
	Window  time.Duration `yaml:"window"`
	MaxSize int           `yaml:"max_size" validate:"min=0"`
}

// RPCConfig holds transport timeouts.
type RPCConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// PersistConfig controls how often live balances are written to the database.
type PersistConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MetadataCacheConfig selects the persisted metadata cache backend.
type MetadataCacheConfig struct {
	Backend string             `yaml:"backend" validate:"omitempty,oneof=memory badger redis"`
	Path    string             `yaml:"path"    validate:"required_if=Backend badger"`
	Prefix  string             `yaml:"prefix"`
	Redis   redisclient.Config `yaml:"redis"`
}

// TokenConfig declares one expected token of a module.
type TokenConfig struct {
	Symbol             string `yaml:"symbol"`
	Decimals           int    `yaml:"decimals"            validate:"min=0,max=36"`
	CoingeckoID        string `yaml:"coingecko_id"`
	ExistentialDeposit string `yaml:"existential_deposit" validate:"omitempty,numeric"`
	OnChainID          string `yaml:"on_chain_id"`
	AssetID            uint64 `yaml:"asset_id"`
	ContractAddress    string `yaml:"contract_address"`
}

// ModuleConfig lists the tokens a module tracks on one chain.
type ModuleConfig struct {
	Tokens []TokenConfig `yaml:"tokens" validate:"dive"`
}

// ChainConfig holds settings for a state-query chain.
type ChainConfig struct {
	ID          domain.ChainID          `yaml:"id"           validate:"required"`
	Name        string                  `yaml:"name"`
	RPCs        []string                `yaml:"rpcs"         validate:"required,min=1,dive,required"`
	IsTestnet   bool                    `yaml:"is_testnet"`
	SS58Prefix  uint16                  `yaml:"ss58_prefix"`
	FeeStrategy domain.FeeStrategy      `yaml:"fee_strategy" validate:"omitempty,oneof=runtime-api legacy"`
	NativeToken TokenConfig             `yaml:"native_token"`
	Modules     map[string]ModuleConfig `yaml:"modules"      validate:"dive"`
}

// EvmNetworkConfig holds settings for a contract-call network.
type EvmNetworkConfig struct {
	ID          domain.EvmNetworkID     `yaml:"id"         validate:"required,numeric"`
	Name        string                  `yaml:"name"`
	RPCs        []string                `yaml:"rpcs"       validate:"required,min=1,dive,url"`
	IsTestnet   bool                    `yaml:"is_testnet"`
	NativeToken TokenConfig             `yaml:"native_token"`
	Modules     map[string]ModuleConfig `yaml:"modules"    validate:"dive"`
}

// AccountConfig is a tracked address.
type AccountConfig struct {
	Address  string `yaml:"address"  validate:"required"`
	Hardware bool   `yaml:"hardware"`
}
