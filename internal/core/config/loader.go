package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/chainwallet/internal/core/domain"
)

var validate = validator.New()

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 6 * time.Second
	}
	if cfg.Poll.ZeroBalanceEvery == 0 {
		cfg.Poll.ZeroBalanceEvery = 5
	}
	if cfg.Poll.RetryInterval == 0 {
		cfg.Poll.RetryInterval = 10 * time.Second
	}
	if cfg.Batch.Window == 0 {
		cfg.Batch.Window = 10 * time.Millisecond
	}
	if cfg.Batch.MaxSize == 0 {
		cfg.Batch.MaxSize = 100
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = 10 * time.Second
	}
	if cfg.RPC.DialTimeout == 0 {
		cfg.RPC.DialTimeout = 10 * time.Second
	}
	if cfg.Persist.Interval == 0 {
		cfg.Persist.Interval = 5 * time.Second
	}
	if cfg.MetadataCache.Backend == "" {
		cfg.MetadataCache.Backend = "memory"
	}
	if cfg.MetadataCache.Prefix == "" {
		cfg.MetadataCache.Prefix = "chainwallet"
	}

	for i := range cfg.Chains {
		if cfg.Chains[i].FeeStrategy == "" {
			cfg.Chains[i].FeeStrategy = domain.FeeStrategyRuntimeAPI
		}
		if cfg.Chains[i].Name == "" {
			cfg.Chains[i].Name = string(cfg.Chains[i].ID)
		}
	}
	for i := range cfg.EvmNetworks {
		if cfg.EvmNetworks[i].Name == "" {
			cfg.EvmNetworks[i].Name = string(cfg.EvmNetworks[i].ID)
		}
		if cfg.EvmNetworks[i].NativeToken.Decimals == 0 {
			cfg.EvmNetworks[i].NativeToken.Decimals = 18
		}
	}
}

// Validate checks struct tags and cross-field rules.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool)
	for _, ch := range c.Chains {
		if seen[string(ch.ID)] {
			return fmt.Errorf("invalid config: duplicate chain id %q", ch.ID)
		}
		seen[string(ch.ID)] = true
		if err := checkModules(string(ch.ID), ch.Modules, domain.FamilySubstrate); err != nil {
			return err
		}
	}
	for _, n := range c.EvmNetworks {
		if seen[string(n.ID)] {
			return fmt.Errorf("invalid config: duplicate chain id %q", n.ID)
		}
		seen[string(n.ID)] = true
		if err := checkModules(string(n.ID), n.Modules, domain.FamilyEVM); err != nil {
			return err
		}
		for _, t := range n.Modules[string(domain.SourceEvmErc20)].Tokens {
			if !domain.IsEthereumAddress(t.ContractAddress) {
				return fmt.Errorf("invalid config: network %s: bad contract address %q", n.ID, t.ContractAddress)
			}
		}
	}
	return nil
}

func checkModules(chain string, mods map[string]ModuleConfig, family domain.Family) error {
	for name := range mods {
		s := domain.Source(name)
		if !s.Valid() {
			return fmt.Errorf("invalid config: chain %s: unknown module %q", chain, name)
		}
		if s.Family() != family {
			return fmt.Errorf("invalid config: chain %s: module %s does not run on %s chains", chain, name, family)
		}
	}
	return nil
}
