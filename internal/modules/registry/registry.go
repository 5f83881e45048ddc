// Package registry dispatches protocol tags to their balance module.
package registry

import (
	"fmt"

	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/poll"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/modules/equilibrium"
	"github.com/vietddude/chainwallet/internal/modules/evmerc20"
	"github.com/vietddude/chainwallet/internal/modules/evmnative"
	"github.com/vietddude/chainwallet/internal/modules/statequery"
	"github.com/vietddude/chainwallet/internal/modules/substratenative"
	"github.com/vietddude/chainwallet/internal/modules/substratetokens"
)

// Registry holds one instance of every module.
type Registry struct {
	native      modules.Module
	tokens      modules.Module
	equilibrium modules.Module
	evmNative   modules.Module
	evmErc20    modules.Module
}

// New builds every module over the given connectors.
func New(state statequery.Connector, contract *evm.Connector, dir *domain.Directory, pollCfg poll.Config) *Registry {
	return &Registry{
		native:      substratenative.New(state, dir),
		tokens:      substratetokens.New(state, dir),
		equilibrium: equilibrium.New(state, dir),
		evmNative:   evmnative.New(contract, dir, pollCfg),
		evmErc20:    evmerc20.New(contract, dir, pollCfg),
	}
}

// NewWith builds a registry from prebuilt modules. Modules are placed by
// their Source; an unknown source is an error.
func NewWith(mods ...modules.Module) (*Registry, error) {
	r := &Registry{}
	for _, m := range mods {
		switch m.Source() {
		case domain.SourceSubstrateNative:
			r.native = m
		case domain.SourceSubstrateTokens:
			r.tokens = m
		case domain.SourceSubstrateEquilibrium:
			r.equilibrium = m
		case domain.SourceEvmNative:
			r.evmNative = m
		case domain.SourceEvmErc20:
			r.evmErc20 = m
		default:
			return nil, fmt.Errorf("module %s: %w", m.Source(), domain.ErrProtocolMismatch)
		}
	}
	return r, nil
}

// Module returns the module owning source.
func (r *Registry) Module(source domain.Source) (modules.Module, error) {
	var m modules.Module
	switch source {
	case domain.SourceSubstrateNative:
		m = r.native
	case domain.SourceSubstrateTokens:
		m = r.tokens
	case domain.SourceSubstrateEquilibrium:
		m = r.equilibrium
	case domain.SourceEvmNative:
		m = r.evmNative
	case domain.SourceEvmErc20:
		m = r.evmErc20
	default:
		return nil, fmt.Errorf("source %q: %w", source, domain.ErrProtocolMismatch)
	}
	if m == nil {
		return nil, fmt.Errorf("source %s: module not registered: %w", source, domain.ErrNotFound)
	}
	return m, nil
}

// ForToken returns the module owning the token's protocol.
func (r *Registry) ForToken(t domain.Token) (modules.Module, error) {
	return r.Module(t.Type)
}

// All returns the registered modules in source order.
func (r *Registry) All() []modules.Module {
	var out []modules.Module
	for _, s := range domain.Sources {
		if m, err := r.Module(s); err == nil {
			out = append(out, m)
		}
	}
	return out
}
