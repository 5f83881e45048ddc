// Package modules defines the contract every balance module implements and
// the types shared between modules and their callers.
package modules

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm"
)

// AddressesByToken lists the addresses to track per token.
type AddressesByToken map[domain.TokenID][]string

// Tokens returns the requested token ids in order.
func (a AddressesByToken) Tokens() []domain.TokenID {
	out := make([]domain.TokenID, 0, len(a))
	for id := range a {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Callback receives balance snapshots or a transient error. An error never
// ends the feed.
type Callback func(balances *balance.Balances, err error)

// ChainMeta is what a module needs to know about a chain between calls.
type ChainMeta struct {
	ChainRef  string
	IsTestnet bool
	// SpecVersion is the runtime version the metadata belongs to.
	SpecVersion uint32
	// MiniMetadata is metadata minimized to what the module reads.
	MiniMetadata []byte
	// ExistentialDeposit is the native existential deposit in planck.
	ExistentialDeposit string
}

// TokenConfig declares one expected token of a module on a chain.
type TokenConfig struct {
	Symbol             string
	Decimals           int
	CoingeckoID        string
	ExistentialDeposit string
	OnChainID          string
	AssetID            uint64
	ContractAddress    string
}

// ModuleConfig is the static configuration of a module on one chain.
type ModuleConfig struct {
	Tokens []TokenConfig
}

// TransferMode selects how the sender's account is treated.
type TransferMode int

const (
	// TransferKeepAlive refuses transfers that would reap the sender.
	TransferKeepAlive TransferMode = iota
	// TransferAllowDeath lets the sender drop below the existential deposit.
	TransferAllowDeath
	// TransferAll sends the whole transferable balance.
	TransferAll
)

// ParseTransferMode parses keep-alive, allow-death or all.
func ParseTransferMode(s string) (TransferMode, error) {
	switch s {
	case "", "keep-alive":
		return TransferKeepAlive, nil
	case "allow-death":
		return TransferAllowDeath, nil
	case "all":
		return TransferAll, nil
	}
	return 0, fmt.Errorf("unknown transfer mode %q", s)
}

// TransferParams describes a transfer with resolved token context.
type TransferParams struct {
	Token  domain.Token
	From   string
	To     string
	Amount *big.Int
	Mode   TransferMode
	Tip    *big.Int
}

// Signature is a signature over an UnsignedTx payload.
type Signature struct {
	Bytes []byte
	// Scheme applies to state-query chains; empty means sr25519.
	Scheme storage.SignatureScheme
}

// UnsignedTx is a built transfer waiting for a signature. Exactly one of
// Substrate and EVM is set.
type UnsignedTx struct {
	Source       domain.Source
	ChainID      domain.ChainID
	EvmNetworkID domain.EvmNetworkID
	From         string
	// Method is the call that was built, e.g. Balances.transfer_keep_alive.
	Method string

	Substrate *storage.UnsignedTx
	// SignerPublicKey is the sender's public key on state-query chains.
	SignerPublicKey []byte

	EVM *evm.UnsignedTx
}

// ChainRef returns the chain or network id.
func (u *UnsignedTx) ChainRef() string {
	if u.EvmNetworkID != "" {
		return string(u.EvmNetworkID)
	}
	return string(u.ChainID)
}

// Payload returns the bytes the signer signs.
func (u *UnsignedTx) Payload() []byte {
	switch {
	case u.Substrate != nil:
		return u.Substrate.Payload()
	case u.EVM != nil:
		return u.EVM.SigningHash().Bytes()
	}
	return nil
}

// Assemble attaches sig and returns the wire form of the transaction.
func (u *UnsignedTx) Assemble(sig Signature) ([]byte, error) {
	switch {
	case u.Substrate != nil:
		scheme := sig.Scheme
		if scheme == "" {
			scheme = storage.SchemeSr25519
		}
		return u.Substrate.Signed(u.SignerPublicKey, sig.Bytes, scheme)
	case u.EVM != nil:
		return u.EVM.WithSignature(sig.Bytes)
	}
	return nil, fmt.Errorf("%w: empty transaction", domain.ErrConstruction)
}

// Module is one asset protocol.
type Module interface {
	Source() domain.Source
	FetchChainMeta(ctx context.Context, chainRef string) (*ChainMeta, error)
	FetchChainTokens(ctx context.Context, chainRef string, meta *ChainMeta, cfg ModuleConfig) (map[domain.TokenID]domain.Token, error)
	SubscribeBalances(ctx context.Context, req AddressesByToken, cb Callback) (func(), error)
	FetchBalances(ctx context.Context, req AddressesByToken) (*balance.Balances, error)
	TransferToken(ctx context.Context, params TransferParams) (*UnsignedTx, error)
}

// Resolve looks up the requested tokens owned by source. Unknown tokens are
// an error. Tokens of other protocols are logged and skipped.
func Resolve(dir *domain.Directory, source domain.Source, req AddressesByToken, log *slog.Logger) (map[domain.TokenID]domain.Token, error) {
	out := make(map[domain.TokenID]domain.Token, len(req))
	for _, id := range req.Tokens() {
		t, err := dir.Token(id)
		if err != nil {
			return nil, err
		}
		if t.Type != source {
			log.Warn("skipping token of another protocol", "token", id, "source", t.Type, "module", source)
			continue
		}
		out[id] = t
	}
	return out, nil
}

// CheckToken verifies a transfer token belongs to source.
func CheckToken(t domain.Token, source domain.Source) error {
	if t.Type != source {
		return fmt.Errorf("token %s: %w: %s is not %s", t.ID, domain.ErrProtocolMismatch, t.Type, source)
	}
	return nil
}

// SubscribeAll runs subscribe once per key and returns one function
// cancelling all of them. If any key fails to subscribe the others are
// cancelled.
func SubscribeAll[K any](keys []K, subscribe func(K) (func(), error)) (func(), error) {
	var unsubs []func()
	cancel := func() {
		for _, u := range unsubs {
			u()
		}
	}
	for _, k := range keys {
		u, err := subscribe(k)
		if err != nil {
			cancel()
			return nil, err
		}
		unsubs = append(unsubs, u)
	}
	var once sync.Once
	return func() { once.Do(cancel) }, nil
}
