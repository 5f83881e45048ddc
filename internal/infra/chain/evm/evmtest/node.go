// Package evmtest serves a fake contract-call node over httptest for module
// and orchestrator tests.
package evmtest

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	selBalanceOf = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selSymbol    = crypto.Keccak256([]byte("symbol()"))[:4]
	selDecimals  = crypto.Keccak256([]byte("decimals()"))[:4]

	uint256Out = mustArgs("uint256")
	stringOut  = mustArgs("string")
	uint8Out   = mustArgs("uint8")
)

func mustArgs(kind string) abi.Arguments {
	t, err := abi.NewType(kind, "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}

// Token is a fake ERC-20 contract.
type Token struct {
	Symbol   string
	Decimals uint8
	// Broken makes every call to the contract revert.
	Broken   bool
	balances map[common.Address]*big.Int
}

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// Node is a fake JSON-RPC node.
type Node struct {
	server *httptest.Server

	ChainID  int64
	GasPrice *big.Int
	Gas      uint64

	mu       sync.Mutex
	native   map[common.Address]*big.Int
	tokens   map[common.Address]*Token
	calls    map[string]int
	sent     [][]byte
	down     bool
	wireHits atomic.Int32
}

// NewNode starts a node on a legacy-fee network with chain id 1.
func NewNode() *Node {
	n := &Node{
		ChainID:  1,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      21000,
		native:   make(map[common.Address]*big.Int),
		tokens:   make(map[common.Address]*Token),
		calls:    make(map[string]int),
	}
	n.server = httptest.NewServer(n)
	return n
}

// URL returns the node endpoint.
func (n *Node) URL() string { return n.server.URL }

// Close stops the server.
func (n *Node) Close() { n.server.Close() }

// SetNative sets the wei balance of addr.
func (n *Node) SetNative(addr string, wei *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.native[common.HexToAddress(addr)] = wei
}

// AddToken deploys a fake contract at address.
func (n *Node) AddToken(address string, tok *Token) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if tok.balances == nil {
		tok.balances = make(map[common.Address]*big.Int)
	}
	n.tokens[common.HexToAddress(address)] = tok
}

// SetTokenBalance sets owner's balance on the contract at address.
func (n *Node) SetTokenBalance(address, owner string, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if tok, ok := n.tokens[common.HexToAddress(address)]; ok {
		tok.balances[common.HexToAddress(owner)] = amount
	}
}

// SetDown makes every request fail with 502.
func (n *Node) SetDown(down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down = down
}

// Calls returns how often method was called.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// WireCalls returns the number of HTTP requests served.
func (n *Node) WireCalls() int { return int(n.wireHits.Load()) }

// Sent returns the raw transactions received.
func (n *Node) Sent() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.sent...)
}

func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.wireHits.Add(1)
	n.mu.Lock()
	down := n.down
	n.mu.Unlock()
	if down {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
		var reqs []request
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resps := make([]map[string]any, len(reqs))
		for i, req := range reqs {
			resps[i] = n.answer(req)
		}
		_ = json.NewEncoder(w).Encode(resps)
		return
	}
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(n.answer(req))
}

func (n *Node) answer(req request) map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.Method]++

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	fail := func(code int, msg string) map[string]any {
		resp["error"] = map[string]any{"code": code, "message": msg}
		return resp
	}

	switch req.Method {
	case "eth_chainId":
		resp["result"] = hexutil.EncodeBig(big.NewInt(n.ChainID))
	case "eth_getBalance":
		addr, ok := n.address(req, 0)
		if !ok {
			return fail(-32602, "invalid address")
		}
		wei := n.native[addr]
		if wei == nil {
			wei = new(big.Int)
		}
		resp["result"] = hexutil.EncodeBig(wei)
	case "eth_getTransactionCount":
		resp["result"] = "0x0"
	case "eth_estimateGas":
		resp["result"] = hexutil.EncodeUint64(n.Gas)
	case "eth_gasPrice":
		resp["result"] = hexutil.EncodeBig(n.GasPrice)
	case "eth_getBlockByNumber":
		resp["result"] = map[string]any{"number": "0x10"}
	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &raw) != nil {
			return fail(-32602, "invalid transaction")
		}
		n.sent = append(n.sent, raw)
		resp["result"] = common.BytesToHash(crypto.Keccak256(raw)).Hex()
	case "eth_call":
		out, ok := n.call(req)
		if !ok {
			return fail(3, "execution reverted")
		}
		resp["result"] = hexutil.Encode(out)
	default:
		return fail(-32601, "method not found")
	}
	return resp
}

func (n *Node) address(req request, i int) (common.Address, bool) {
	if len(req.Params) <= i {
		return common.Address{}, false
	}
	var s string
	if err := json.Unmarshal(req.Params[i], &s); err != nil || !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func (n *Node) call(req request) ([]byte, bool) {
	if len(req.Params) == 0 {
		return nil, false
	}
	var arg struct {
		To    *common.Address `json:"to"`
		Input hexutil.Bytes   `json:"input"`
		Data  hexutil.Bytes   `json:"data"`
	}
	if err := json.Unmarshal(req.Params[0], &arg); err != nil || arg.To == nil {
		return nil, false
	}
	input := arg.Input
	if len(input) == 0 {
		input = arg.Data
	}
	tok, ok := n.tokens[*arg.To]
	if !ok || tok.Broken || len(input) < 4 {
		return nil, false
	}

	var (
		out []byte
		err error
	)
	switch {
	case bytes.Equal(input[:4], selBalanceOf):
		if len(input) < 36 {
			return nil, false
		}
		amount := tok.balances[common.BytesToAddress(input[16:36])]
		if amount == nil {
			amount = new(big.Int)
		}
		out, err = uint256Out.Pack(amount)
	case bytes.Equal(input[:4], selSymbol):
		out, err = stringOut.Pack(tok.Symbol)
	case bytes.Equal(input[:4], selDecimals):
		out, err = uint8Out.Pack(tok.Decimals)
	default:
		return nil, false
	}
	return out, err == nil
}
