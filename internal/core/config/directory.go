package config

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/modules"
)

// Snapshot builds the static directory: every chain and network with the
// id of its native token. Tokens themselves are discovered by the modules.
func (c *AppConfig) Snapshot() domain.Snapshot {
	s := domain.Snapshot{
		Chains:      make(map[domain.ChainID]domain.Chain, len(c.Chains)),
		EvmNetworks: make(map[domain.EvmNetworkID]domain.EvmNetwork, len(c.EvmNetworks)),
		Tokens:      make(map[domain.TokenID]domain.Token),
	}
	for i, ch := range c.Chains {
		s.Chains[ch.ID] = domain.Chain{
			ID:            ch.ID,
			Name:          ch.Name,
			RPCs:          ch.RPCs,
			IsTestnet:     ch.IsTestnet,
			SS58Prefix:    ch.SS58Prefix,
			FeeStrategy:   ch.FeeStrategy,
			NativeTokenID: domain.MakeTokenID(string(ch.ID), domain.SourceSubstrateNative, ""),
			SortIndex:     i,
		}
	}
	for i, n := range c.EvmNetworks {
		s.EvmNetworks[n.ID] = domain.EvmNetwork{
			ID:            n.ID,
			Name:          n.Name,
			RPCs:          n.RPCs,
			IsTestnet:     n.IsTestnet,
			NativeTokenID: domain.MakeTokenID(string(n.ID), domain.SourceEvmNative, ""),
			SortIndex:     len(c.Chains) + i,
		}
	}
	return s
}

func (t TokenConfig) module() modules.TokenConfig {
	return modules.TokenConfig{
		Symbol:             t.Symbol,
		Decimals:           t.Decimals,
		CoingeckoID:        t.CoingeckoID,
		ExistentialDeposit: t.ExistentialDeposit,
		OnChainID:          t.OnChainID,
		AssetID:            t.AssetID,
		ContractAddress:    t.ContractAddress,
	}
}

func moduleConfigs(native domain.Source, nativeToken TokenConfig, mods map[string]ModuleConfig) map[domain.Source]modules.ModuleConfig {
	out := map[domain.Source]modules.ModuleConfig{
		native: {Tokens: []modules.TokenConfig{nativeToken.module()}},
	}
	for name, m := range mods {
		s := domain.Source(name)
		if s == native {
			continue
		}
		mc := modules.ModuleConfig{Tokens: make([]modules.TokenConfig, 0, len(m.Tokens))}
		for _, t := range m.Tokens {
			mc.Tokens = append(mc.Tokens, t.module())
		}
		out[s] = mc
	}
	return out
}

// ModuleConfigs returns the configuration of every module enabled on the
// chain. The native module is always enabled and tracks the native token.
func (c ChainConfig) ModuleConfigs() map[domain.Source]modules.ModuleConfig {
	return moduleConfigs(domain.SourceSubstrateNative, c.NativeToken, c.Modules)
}

// ModuleConfigs returns the configuration of every module enabled on the
// network. The native module is always enabled.
func (n EvmNetworkConfig) ModuleConfigs() map[domain.Source]modules.ModuleConfig {
	return moduleConfigs(domain.SourceEvmNative, n.NativeToken, n.Modules)
}

// Rates converts the configured token rates.
func (c *AppConfig) Rates() map[domain.TokenID]balance.Rates {
	out := make(map[domain.TokenID]balance.Rates, len(c.TokenRates))
	for id, rates := range c.TokenRates {
		r := make(balance.Rates, len(rates))
		for cur, v := range rates {
			r[strings.ToLower(cur)] = decimal.NewFromFloat(v)
		}
		out[domain.TokenID(id)] = r
	}
	return out
}

// DomainAccounts returns the tracked accounts.
func (c *AppConfig) DomainAccounts() []domain.Account {
	out := make([]domain.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		out = append(out, domain.Account{Address: a.Address, Hardware: a.Hardware})
	}
	return out
}
