// Package substrate is the connector for state-query chains.
//
// It keeps one websocket connection per chain, dialled lazily with fallback
// across the chain's endpoints, and exposes plain JSON-RPC calls and
// subscriptions. Subscriptions survive reconnects. Reads pinned to a block
// hash are cached because their results never change. Typed registries are
// cached per runtime spec version.
package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/infra/rpc/provider"
	"github.com/vietddude/chainwallet/internal/infra/rpc/routing"
)

// MetadataCache persists raw metadata between runs.
type MetadataCache interface {
	Get(ctx context.Context, genesis string, specVersion uint32) ([]byte, bool, error)
	Put(ctx context.Context, genesis string, specVersion uint32, raw []byte) error
}

// Config controls connection behaviour.
type Config struct {
	DialTimeout time.Duration
	// Resubscribe is the backoff between attempts to restore a lost subscription.
	Resubscribe routing.RetryConfig
	// Keep, when set, minimizes metadata before it is cached.
	Keep *metadata.Keep
}

// DialFunc opens a websocket provider.
type DialFunc func(ctx context.Context, name, url string) (*provider.WSProvider, error)

// RuntimeVersion is the subset of state_getRuntimeVersion the wallet uses.
type RuntimeVersion struct {
	SpecName           string `json:"specName"`
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

// Connector owns the connections of every configured chain.
type Connector struct {
	cfg  Config
	meta MetadataCache
	dial DialFunc
	log  *slog.Logger

	mu     sync.RWMutex
	chains map[domain.ChainID]*chainConn
}

// NewConnector creates a connector. meta may be nil.
func NewConnector(cfg Config, meta MetadataCache) *Connector {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Resubscribe.InitialDelay <= 0 {
		cfg.Resubscribe = routing.RetryConfig{
			InitialDelay:    time.Second,
			MaxDelay:        30 * time.Second,
			BackoffMultiple: 2,
		}
	}
	return &Connector{
		cfg:    cfg,
		meta:   meta,
		dial:   provider.DialWS,
		log:    slog.Default().With("component", "substrate-connector"),
		chains: make(map[domain.ChainID]*chainConn),
	}
}

// SetDialer replaces the websocket dialer.
func (c *Connector) SetDialer(dial DialFunc) {
	c.dial = dial
}

// AddChain registers or replaces a chain. A replaced chain's connection is closed.
func (c *Connector) AddChain(chain domain.Chain) {
	c.mu.Lock()
	old := c.chains[chain.ID]
	c.chains[chain.ID] = newChainConn(chain)
	c.mu.Unlock()
	if old != nil {
		old.close()
	}
}

func (c *Connector) chain(id domain.ChainID) (*chainConn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cc, ok := c.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", id, domain.ErrNotFound)
	}
	return cc, nil
}

// Send makes one JSON-RPC call. A transport failure drops the connection
// and the call is retried once on a fresh one.
func (c *Connector) Send(ctx context.Context, id domain.ChainID, method string, params []any) (json.RawMessage, error) {
	cc, err := c.chain(id)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := cc.connection(ctx, c.dial, c.cfg.DialTimeout)
		if err != nil {
			return nil, err
		}
		res, err := conn.Call(ctx, method, params)
		if err == nil {
			return res, nil
		}
		var rpcErr *provider.RPCError
		if errors.As(err, &rpcErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("%s on %s: %w", method, id, err)
		}
		lastErr = err
		c.log.Warn("call failed, reconnecting", "chain", id, "method", method, "error", err)
		cc.reset(conn)
	}
	return nil, fmt.Errorf("%s on %s: %w", method, id, lastErr)
}

// SendAt makes a call pinned to blockHash, appended as the last param.
// Results are cached per (method, params, blockHash). An empty blockHash
// is a plain uncached call.
func (c *Connector) SendAt(ctx context.Context, id domain.ChainID, method string, params []any, blockHash string) (json.RawMessage, error) {
	if blockHash == "" {
		return c.Send(ctx, id, method, params)
	}
	cc, err := c.chain(id)
	if err != nil {
		return nil, err
	}

	key, err := cacheKey(method, params, blockHash)
	if err != nil {
		return nil, err
	}
	if res, ok := cc.results.get(key); ok {
		return res, nil
	}

	pinned := append(append([]any{}, params...), blockHash)
	res, err := c.Send(ctx, id, method, pinned)
	if err != nil {
		return nil, err
	}
	cc.results.put(key, res)
	return res, nil
}

// Subscribe opens a subscription that is restored after reconnects. cb
// runs on a dedicated goroutine, in notification order; it receives the
// error when the subscription is lost and keeps receiving results once it
// is restored. ctx bounds only the initial subscribe call.
func (c *Connector) Subscribe(
	ctx context.Context,
	id domain.ChainID,
	subMethod, unsubMethod, notifyMethod string,
	params []any,
	cb func(result json.RawMessage, err error),
) (func(), error) {
	cc, err := c.chain(id)
	if err != nil {
		return nil, err
	}

	lifetime, cancel := context.WithCancel(context.Background())
	s := &subscription{
		connector:    c,
		cc:           cc,
		subMethod:    subMethod,
		unsubMethod:  unsubMethod,
		notifyMethod: notifyMethod,
		params:       params,
		ctx:          lifetime,
		cancel:       cancel,
	}
	s.queue = newDispatcher(func(n notice) { cb(n.result, n.err) })

	if err := s.open(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("%s on %s: %w", subMethod, id, err)
	}
	return s.close, nil
}

// RuntimeVersion returns the chain's current runtime version.
func (c *Connector) RuntimeVersion(ctx context.Context, id domain.ChainID) (RuntimeVersion, error) {
	var rv RuntimeVersion
	res, err := c.Send(ctx, id, "state_getRuntimeVersion", nil)
	if err != nil {
		return rv, err
	}
	if err := json.Unmarshal(res, &rv); err != nil {
		return rv, fmt.Errorf("%w: runtime version of %s: %v", domain.ErrDecode, id, err)
	}
	return rv, nil
}

// SubscribeRuntimeVersion reports the chain's runtime version now and after
// every runtime upgrade. It follows the same restore rules as Subscribe.
func (c *Connector) SubscribeRuntimeVersion(ctx context.Context, id domain.ChainID, cb func(RuntimeVersion, error)) (func(), error) {
	return c.Subscribe(ctx, id,
		"state_subscribeRuntimeVersion", "state_unsubscribeRuntimeVersion", "state_runtimeVersion",
		nil,
		func(result json.RawMessage, err error) {
			if err != nil {
				cb(RuntimeVersion{}, err)
				return
			}
			var rv RuntimeVersion
			if err := json.Unmarshal(result, &rv); err != nil {
				cb(rv, fmt.Errorf("%w: runtime version notification of %s: %v", domain.ErrDecode, id, err))
				return
			}
			cb(rv, nil)
		})
}

// GenesisHash returns the configured genesis hash or asks the chain.
func (c *Connector) GenesisHash(ctx context.Context, id domain.ChainID) (string, error) {
	cc, err := c.chain(id)
	if err != nil {
		return "", err
	}
	if g := cc.genesisHash(); g != "" {
		return g, nil
	}

	res, err := c.Send(ctx, id, "chain_getBlockHash", []any{0})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(res, &hash); err != nil || hash == "" {
		return "", fmt.Errorf("%w: genesis hash of %s: %s", domain.ErrDecode, id, res)
	}
	cc.setGenesisHash(hash)
	return hash, nil
}

// Registry returns the typed registry for the chain's current runtime.
func (c *Connector) Registry(ctx context.Context, id domain.ChainID) (*storage.Builder, RuntimeVersion, error) {
	rv, err := c.RuntimeVersion(ctx, id)
	if err != nil {
		return nil, rv, err
	}
	b, err := c.RegistryAt(ctx, id, rv.SpecVersion)
	return b, rv, err
}

// RegistryAt returns the typed registry for a known spec version. It is
// built at most once per version and never modified afterwards.
func (c *Connector) RegistryAt(ctx context.Context, id domain.ChainID, specVersion uint32) (*storage.Builder, error) {
	cc, err := c.chain(id)
	if err != nil {
		return nil, err
	}
	if b, ok := cc.registry(specVersion); ok {
		return b, nil
	}

	raw, err := c.loadMetadata(ctx, id, specVersion)
	if err != nil {
		return nil, err
	}
	b, err := storage.FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata of %s v%d: %v", domain.ErrDecode, id, specVersion, err)
	}
	return cc.storeRegistry(specVersion, b), nil
}

func (c *Connector) loadMetadata(ctx context.Context, id domain.ChainID, specVersion uint32) ([]byte, error) {
	genesis, err := c.GenesisHash(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.meta != nil {
		raw, ok, err := c.meta.Get(ctx, genesis, specVersion)
		if err != nil {
			c.log.Warn("metadata cache read failed", "chain", id, "error", err)
		}
		if ok {
			return raw, nil
		}
	}

	raw, err := c.fetchMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.cfg.Keep != nil {
		full, err := metadata.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata of %s: %v", domain.ErrDecode, id, err)
		}
		raw = metadata.Minimize(full, *c.cfg.Keep).Encode()
	}

	if c.meta != nil {
		if err := c.meta.Put(ctx, genesis, specVersion, raw); err != nil {
			c.log.Warn("metadata cache write failed", "chain", id, "error", err)
		}
	}
	return raw, nil
}

// fetchMetadata prefers v15 through the metadata runtime API and falls back
// to state_getMetadata.
func (c *Connector) fetchMetadata(ctx context.Context, id domain.ChainID) ([]byte, error) {
	res, err := c.Send(ctx, id, "state_call", []any{"Metadata_metadata_at_version", "0x0f000000"})
	if err == nil {
		if raw, ok := unwrapOpaqueMetadata(res); ok {
			return raw, nil
		}
	}

	res, err = c.Send(ctx, id, "state_getMetadata", nil)
	if err != nil {
		return nil, err
	}
	var hexRaw string
	if err := json.Unmarshal(res, &hexRaw); err != nil {
		return nil, fmt.Errorf("%w: metadata of %s: %v", domain.ErrDecode, id, err)
	}
	raw, err := storage.FromHex(hexRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata of %s: %v", domain.ErrDecode, id, err)
	}
	return raw, nil
}

// Connected reports which chains currently hold a live connection.
func (c *Connector) Connected() map[domain.ChainID]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[domain.ChainID]bool, len(c.chains))
	for id, cc := range c.chains {
		out[id] = cc.connected()
	}
	return out
}

// Chains lists registered chains in id order.
func (c *Connector) Chains() []domain.ChainID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ChainID, 0, len(c.chains))
	for id := range c.chains {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close closes every connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	chains := c.chains
	c.chains = make(map[domain.ChainID]*chainConn)
	c.mu.Unlock()
	for _, cc := range chains {
		cc.close()
	}
	return nil
}
