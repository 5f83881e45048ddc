package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/chainwallet/internal/codec/scale"
	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/infra/rpc/provider"
)

// chainConn is the per-chain state: connection, result cache and typed
// registries.
type chainConn struct {
	chain domain.Chain

	mu      sync.Mutex
	conn    *provider.WSProvider
	next    int
	genesis string
	closed  bool

	results resultCache

	regMu      sync.RWMutex
	registries map[uint32]*storage.Builder
}

func newChainConn(chain domain.Chain) *chainConn {
	return &chainConn{
		chain:      chain,
		genesis:    chain.GenesisHash,
		results:    resultCache{entries: make(map[string]json.RawMessage)},
		registries: make(map[uint32]*storage.Builder),
	}
}

func alive(p *provider.WSProvider) bool {
	select {
	case <-p.Done():
		return false
	default:
		return true
	}
}

// connection returns the live connection, dialling the endpoints in order
// starting from the last one that worked.
func (cc *chainConn) connection(ctx context.Context, dial DialFunc, timeout time.Duration) (*provider.WSProvider, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.closed {
		return nil, provider.ErrClosed
	}
	if cc.conn != nil && alive(cc.conn) {
		return cc.conn, nil
	}
	cc.conn = nil

	urls := cc.chain.RPCs
	if len(urls) == 0 {
		return nil, fmt.Errorf("chain %s has no rpc endpoints", cc.chain.ID)
	}

	var errs []error
	for i := range urls {
		idx := (cc.next + i) % len(urls)
		dctx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := dial(dctx, fmt.Sprintf("%s-%d", cc.chain.ID, idx), urls[idx])
		cancel()
		if err == nil {
			cc.conn = conn
			cc.next = idx
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("connect %s: all endpoints failed: %w", cc.chain.ID, errors.Join(errs...))
}

// reset drops conn if it is still current and moves on to the next endpoint.
func (cc *chainConn) reset(conn *provider.WSProvider) {
	cc.mu.Lock()
	if cc.conn != conn {
		cc.mu.Unlock()
		return
	}
	cc.conn = nil
	if n := len(cc.chain.RPCs); n > 0 {
		cc.next = (cc.next + 1) % n
	}
	cc.mu.Unlock()
	_ = conn.Close()
}

func (cc *chainConn) connected() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.conn != nil && alive(cc.conn)
}

func (cc *chainConn) close() {
	cc.mu.Lock()
	conn := cc.conn
	cc.conn = nil
	cc.closed = true
	cc.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (cc *chainConn) genesisHash() string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.genesis
}

func (cc *chainConn) setGenesisHash(h string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.genesis = h
}

func (cc *chainConn) registry(specVersion uint32) (*storage.Builder, bool) {
	cc.regMu.RLock()
	defer cc.regMu.RUnlock()
	b, ok := cc.registries[specVersion]
	return b, ok
}

// storeRegistry keeps the first registry built for a version.
func (cc *chainConn) storeRegistry(specVersion uint32, b *storage.Builder) *storage.Builder {
	cc.regMu.Lock()
	defer cc.regMu.Unlock()
	if existing, ok := cc.registries[specVersion]; ok {
		return existing
	}
	cc.registries[specVersion] = b
	return b
}

type resultCache struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

func (r *resultCache) get(key string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	return v, ok
}

func (r *resultCache) put(key string, v json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = v
}

func cacheKey(method string, params []any, blockHash string) (string, error) {
	p, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", method, err)
	}
	return method + "|" + string(p) + "|" + blockHash, nil
}

// unwrapOpaqueMetadata decodes the Option<Vec<u8>> returned by
// Metadata_metadata_at_version.
func unwrapOpaqueMetadata(res json.RawMessage) ([]byte, bool) {
	var hexRaw string
	if err := json.Unmarshal(res, &hexRaw); err != nil {
		return nil, false
	}
	data, err := storage.FromHex(hexRaw)
	if err != nil || len(data) == 0 || data[0] != 1 {
		return nil, false
	}
	d := scale.NewDecoder(data[1:])
	raw, err := d.ByteSlice()
	if err != nil {
		return nil, false
	}
	return raw, true
}
