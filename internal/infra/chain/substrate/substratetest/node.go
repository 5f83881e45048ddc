// Package substratetest runs an in-process websocket node that answers the
// state-query methods the wallet uses.
package substratetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/scale"
	"github.com/vietddude/chainwallet/internal/codec/storage"
)

const (
	DefaultGenesis = "0x91b171bb158e2d3848fa23a9f1c25182fb8e20313b2c1eb49219da7a70ce90c3"
	BlockHash      = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

// Handler answers one method. A non-nil error becomes a JSON-RPC error.
type Handler func(params []json.RawMessage) (any, error)

// Node is a fake state-query node.
type Node struct {
	Genesis string
	// NoV15 makes Metadata_metadata_at_version fail.
	NoV15 bool

	meta []byte

	mu          sync.Mutex
	specVersion uint32
	storage     map[string]string
	handlers    map[string]Handler
	calls       map[string]int
	submitted   []string
	subs        map[string]*storageSub
	versionSubs map[string]*storageSub
	conns       map[*websocket.Conn]*sync.Mutex
	nextSub     atomic.Int64

	server *httptest.Server
}

type storageSub struct {
	id   string
	keys []string
	conn *websocket.Conn
	wmu  *sync.Mutex
}

// NewNode starts a node serving m.
func NewNode(m *metadata.Metadata) *Node {
	n := &Node{
		Genesis:     DefaultGenesis,
		meta:        m.Encode(),
		specVersion: 1,
		storage:     make(map[string]string),
		handlers:    make(map[string]Handler),
		calls:       make(map[string]int),
		subs:        make(map[string]*storageSub),
		versionSubs: make(map[string]*storageSub),
		conns:       make(map[*websocket.Conn]*sync.Mutex),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

// URL is the node's websocket endpoint.
func (n *Node) URL() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

// SetSpecVersion changes the reported runtime version and notifies
// runtime version subscribers.
func (n *Node) SetSpecVersion(v uint32) {
	n.SetRuntime(v, nil)
}

// SetRuntime performs a runtime upgrade to spec version v. m, when set,
// replaces the served metadata.
func (n *Node) SetRuntime(v uint32, m *metadata.Metadata) {
	n.mu.Lock()
	n.specVersion = v
	if m != nil {
		n.meta = m.Encode()
	}
	targets := make([]*storageSub, 0, len(n.versionSubs))
	for _, s := range n.versionSubs {
		targets = append(targets, s)
	}
	n.mu.Unlock()

	for _, s := range targets {
		n.notifyVersion(s, v)
	}
}

// Handle overrides or adds a method.
func (n *Node) Handle(method string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

// Calls returns how many times method was called.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// Submitted returns the extrinsics received by author_submitExtrinsic.
func (n *Node) Submitted() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.submitted...)
}

// SetStorage sets key to value (empty removes it) and notifies storage
// subscribers watching key.
func (n *Node) SetStorage(key, value string) {
	n.mu.Lock()
	if value == "" {
		delete(n.storage, key)
	} else {
		n.storage[key] = value
	}
	var targets []*storageSub
	for _, s := range n.subs {
		for _, k := range s.keys {
			if k == key {
				targets = append(targets, s)
				break
			}
		}
	}
	n.mu.Unlock()

	for _, s := range targets {
		n.notify(s, [][2]any{{key, nullable(value)}})
	}
}

// DropConnections closes every open websocket.
func (n *Node) DropConnections() {
	n.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Subscriptions counts live storage subscriptions.
func (n *Node) Subscriptions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close stops the node.
func (n *Node) Close() {
	n.DropConnections()
	n.server.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wmu := &sync.Mutex{}
	n.mu.Lock()
	n.conns[conn] = wmu
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.conns, conn)
		for id, s := range n.subs {
			if s.conn == conn {
				delete(n.subs, id)
			}
		}
		for id, s := range n.versionSubs {
			if s.conn == conn {
				delete(n.versionSubs, id)
			}
		}
		n.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		result, after, rpcErr := n.dispatch(conn, wmu, req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = map[string]any{"code": -32000, "message": rpcErr.Error()}
		} else {
			resp["result"] = result
		}
		write(conn, wmu, resp)
		if after != nil {
			after()
		}
	}
}

func write(conn *websocket.Conn, wmu *sync.Mutex, v any) {
	wmu.Lock()
	defer wmu.Unlock()
	_ = conn.WriteJSON(v)
}

func (n *Node) dispatch(conn *websocket.Conn, wmu *sync.Mutex, req request) (any, func(), error) {
	n.mu.Lock()
	n.calls[req.Method]++
	h := n.handlers[req.Method]
	specVersion := n.specVersion
	meta := n.meta
	n.mu.Unlock()
	if h != nil {
		res, err := h(req.Params)
		return res, nil, err
	}

	switch req.Method {
	case "state_getRuntimeVersion":
		return map[string]any{"specName": "fake", "specVersion": specVersion, "transactionVersion": 1}, nil, nil
	case "chain_getBlockHash":
		if len(req.Params) > 0 && strings.TrimSpace(string(req.Params[0])) == "0" {
			return n.Genesis, nil, nil
		}
		return BlockHash, nil, nil
	case "chain_getFinalizedHead":
		return BlockHash, nil, nil
	case "chain_getHeader":
		return map[string]any{"number": "0x64", "parentHash": BlockHash}, nil, nil
	case "system_accountNextIndex":
		return 3, nil, nil
	case "state_getMetadata":
		return storage.ToHex(meta), nil, nil
	case "state_call":
		var method string
		_ = json.Unmarshal(req.Params[0], &method)
		if method == "Metadata_metadata_at_version" && !n.NoV15 {
			enc := scale.NewEncoder()
			enc.U8(1)
			enc.ByteSlice(meta)
			return storage.ToHex(enc.Bytes()), nil, nil
		}
		return nil, nil, fmt.Errorf("unsupported runtime call %s", method)
	case "state_getStorage":
		var key string
		_ = json.Unmarshal(req.Params[0], &key)
		n.mu.Lock()
		v := n.storage[key]
		n.mu.Unlock()
		return nullable(v), nil, nil
	case "state_queryStorageAt":
		var keys []string
		_ = json.Unmarshal(req.Params[0], &keys)
		return []any{map[string]any{"block": BlockHash, "changes": n.changes(keys)}}, nil, nil
	case "state_subscribeStorage":
		var keys []string
		_ = json.Unmarshal(req.Params[0], &keys)
		s := &storageSub{id: fmt.Sprintf("sub-%d", n.nextSub.Add(1)), keys: keys, conn: conn, wmu: wmu}
		n.mu.Lock()
		n.subs[s.id] = s
		n.mu.Unlock()
		return s.id, func() { n.notify(s, n.changes(keys)) }, nil
	case "state_unsubscribeStorage":
		var id string
		_ = json.Unmarshal(req.Params[0], &id)
		n.mu.Lock()
		_, ok := n.subs[id]
		delete(n.subs, id)
		n.mu.Unlock()
		return ok, nil, nil
	case "state_subscribeRuntimeVersion":
		s := &storageSub{id: fmt.Sprintf("rv-%d", n.nextSub.Add(1)), conn: conn, wmu: wmu}
		n.mu.Lock()
		n.versionSubs[s.id] = s
		n.mu.Unlock()
		return s.id, func() { n.notifyVersion(s, specVersion) }, nil
	case "state_unsubscribeRuntimeVersion":
		var id string
		_ = json.Unmarshal(req.Params[0], &id)
		n.mu.Lock()
		_, ok := n.versionSubs[id]
		delete(n.versionSubs, id)
		n.mu.Unlock()
		return ok, nil, nil
	case "author_submitExtrinsic":
		var ext string
		_ = json.Unmarshal(req.Params[0], &ext)
		n.mu.Lock()
		n.submitted = append(n.submitted, ext)
		n.mu.Unlock()
		return "0x" + strings.Repeat("ab", 32), nil, nil
	}
	return nil, nil, fmt.Errorf("method %s not found", req.Method)
}

func (n *Node) changes(keys []string) [][2]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][2]any, len(keys))
	for i, k := range keys {
		out[i] = [2]any{k, nullable(n.storage[k])}
	}
	return out
}

func (n *Node) notify(s *storageSub, changes [][2]any) {
	write(s.conn, s.wmu, map[string]any{
		"jsonrpc": "2.0",
		"method":  "state_storage",
		"params": map[string]any{
			"subscription": s.id,
			"result":       map[string]any{"block": BlockHash, "changes": changes},
		},
	})
}

func (n *Node) notifyVersion(s *storageSub, v uint32) {
	write(s.conn, s.wmu, map[string]any{
		"jsonrpc": "2.0",
		"method":  "state_runtimeVersion",
		"params": map[string]any{
			"subscription": s.id,
			"result":       map[string]any{"specName": "fake", "specVersion": v, "transactionVersion": 1},
		},
	})
}
