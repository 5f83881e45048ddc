package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/modules"
)

type stubModule struct {
	source domain.Source
}

func (s stubModule) Source() domain.Source { return s.source }
func (s stubModule) FetchChainMeta(context.Context, string) (*modules.ChainMeta, error) {
	return nil, nil
}
func (s stubModule) FetchChainTokens(context.Context, string, *modules.ChainMeta, modules.ModuleConfig) (map[domain.TokenID]domain.Token, error) {
	return nil, nil
}
func (s stubModule) SubscribeBalances(context.Context, modules.AddressesByToken, modules.Callback) (func(), error) {
	return func() {}, nil
}
func (s stubModule) FetchBalances(context.Context, modules.AddressesByToken) (*balance.Balances, error) {
	return balance.NewBalances(), nil
}
func (s stubModule) TransferToken(context.Context, modules.TransferParams) (*modules.UnsignedTx, error) {
	return nil, nil
}

func TestRegistry_Dispatch(t *testing.T) {
	r, err := NewWith(stubModule{domain.SourceSubstrateNative}, stubModule{domain.SourceEvmErc20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, err := r.Module(domain.SourceEvmErc20)
	if err != nil || m.Source() != domain.SourceEvmErc20 {
		t.Fatalf("expected erc20 module, got %v (%v)", m, err)
	}
	m, err = r.ForToken(domain.Token{Type: domain.SourceSubstrateNative})
	if err != nil || m.Source() != domain.SourceSubstrateNative {
		t.Fatalf("expected native module, got %v (%v)", m, err)
	}

	if _, err := r.Module("substrate-crowdloan"); !errors.Is(err, domain.ErrProtocolMismatch) {
		t.Errorf("expected ErrProtocolMismatch for an unknown tag, got %v", err)
	}
	if _, err := r.Module(domain.SourceEvmNative); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unregistered module, got %v", err)
	}
	if got := len(r.All()); got != 2 {
		t.Errorf("expected 2 registered modules, got %d", got)
	}
}

func TestNewWith_UnknownSource(t *testing.T) {
	if _, err := NewWith(stubModule{"bitcoin-utxo"}); !errors.Is(err, domain.ErrProtocolMismatch) {
		t.Errorf("expected ErrProtocolMismatch, got %v", err)
	}
}
