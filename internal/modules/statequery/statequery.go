// Package statequery holds what the state-query balance modules share:
// storage reads and subscriptions, chain meta and transaction preparation.
package statequery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/ss58"
	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/infra/chain"
	"github.com/vietddude/chainwallet/internal/infra/chain/substrate"
	"github.com/vietddude/chainwallet/internal/modules"
)

// Connector is the state-query connector with typed registry access.
type Connector interface {
	chain.StateConnector
	Registry(ctx context.Context, chainID domain.ChainID) (*storage.Builder, substrate.RuntimeVersion, error)
	GenesisHash(ctx context.Context, chainID domain.ChainID) (string, error)
	SubscribeRuntimeVersion(ctx context.Context, chainID domain.ChainID, cb func(substrate.RuntimeVersion, error)) (func(), error)
}

// Changes maps storage keys to 0x-hex values. An empty value is an absent key.
type Changes map[string]string

type changeSet struct {
	Block   string       `json:"block"`
	Changes [][2]*string `json:"changes"`
}

func (c changeSet) apply(into Changes) {
	for _, kv := range c.Changes {
		if kv[0] == nil {
			continue
		}
		v := ""
		if kv[1] != nil {
			v = *kv[1]
		}
		into[*kv[0]] = v
	}
}

// QueryStorage reads keys at the latest block in one call.
func QueryStorage(ctx context.Context, conn Connector, chainID domain.ChainID, keys []string) (Changes, string, error) {
	res, err := conn.Send(ctx, chainID, "state_queryStorageAt", []any{keys})
	if err != nil {
		return nil, "", err
	}
	var sets []changeSet
	if err := json.Unmarshal(res, &sets); err != nil {
		return nil, "", fmt.Errorf("%w: state_queryStorageAt on %s: %v", domain.ErrDecode, chainID, err)
	}

	out := make(Changes, len(keys))
	for _, k := range keys {
		out[k] = ""
	}
	block := ""
	for _, s := range sets {
		s.apply(out)
		block = s.Block
	}
	return out, block, nil
}

// SubscribeStorage watches keys. cb receives only the keys that changed.
func SubscribeStorage(
	ctx context.Context,
	conn Connector,
	chainID domain.ChainID,
	keys []string,
	cb func(changes Changes, block string, err error),
) (func(), error) {
	return conn.Subscribe(ctx, chainID,
		"state_subscribeStorage", "state_unsubscribeStorage", "state_storage",
		[]any{keys},
		func(result json.RawMessage, err error) {
			if err != nil {
				cb(nil, "", err)
				return
			}
			var set changeSet
			if err := json.Unmarshal(result, &set); err != nil {
				cb(nil, "", fmt.Errorf("%w: storage notification on %s: %v", domain.ErrDecode, chainID, err))
				return
			}
			changes := make(Changes, len(set.Changes))
			set.apply(changes)
			cb(changes, set.Block, nil)
		})
}

// PublicKey decodes an SS58 address.
func PublicKey(address string) ([]byte, error) {
	pub, err := ss58.PublicKey(address)
	if err != nil {
		return nil, fmt.Errorf("address %q: %w", address, err)
	}
	return pub, nil
}

// FetchChainMeta loads the registry of chainID and keeps the parts of its
// metadata selected by keep.
func FetchChainMeta(ctx context.Context, conn Connector, ch domain.Chain, keep metadata.Keep) (*modules.ChainMeta, error) {
	b, rv, err := conn.Registry(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	meta := &modules.ChainMeta{
		ChainRef:     string(ch.ID),
		IsTestnet:    ch.IsTestnet,
		SpecVersion:  rv.SpecVersion,
		MiniMetadata: metadata.Minimize(b.Metadata(), keep).Encode(),
	}
	if v, err := b.Constant("Balances", "ExistentialDeposit"); err == nil {
		meta.ExistentialDeposit = fmt.Sprint(v)
	}
	return meta, nil
}
