package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPProvider_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if v, ok := req["jsonrpc"].(string); !ok || v != "2.0" {
			t.Errorf("expected jsonrpc: 2.0, got %v", req["jsonrpc"])
		}
		if params, ok := req["params"].([]any); !ok || len(params) != 0 {
			t.Errorf("expected empty params array, got %v", req["params"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": "0x123"})
	}))
	defer server.Close()

	p := NewHTTPProvider("eth-mock", server.URL, 5*time.Second)
	result, err := p.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `"0x123"` {
		t.Errorf("expected \"0x123\", got %s", result)
	}
	if !p.GetHealth().Available {
		t.Error("expected provider to be available")
	}
}

func TestHTTPProvider_CallRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":3,"message":"execution reverted","data":"0x08c379a0"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("eth-mock", server.URL, 5*time.Second)
	_, err := p.Call(context.Background(), "eth_call", []any{map[string]any{}, "latest"})

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != 3 || rpcErr.Message != "execution reverted" {
		t.Errorf("unexpected rpc error %+v", rpcErr)
	}
	if p.GetHealth().ErrorRate != 0 {
		t.Error("expected application errors not to count against health")
	}
}

func TestHTTPProvider_BatchCallOutOfOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			t.Errorf("failed to decode batch: %v", err)
			return
		}
		// Answer in reverse order, echoing the method so callers can check
		// correlation. The last request gets no answer.
		var resps []map[string]any
		for i := len(reqs) - 2; i >= 0; i-- {
			resps = append(resps, map[string]any{"jsonrpc": "2.0", "id": reqs[i].ID, "result": reqs[i].Method})
		}
		_ = json.NewEncoder(w).Encode(resps)
	}))
	defer server.Close()

	p := NewHTTPProvider("eth-mock", server.URL, 5*time.Second)
	reqs := []BatchRequest{{Method: "a"}, {Method: "b"}, {Method: "c"}, {Method: "d"}}
	resps, err := p.BatchCall(context.Background(), reqs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		var got string
		if err := json.Unmarshal(resps[i].Result, &got); err != nil || got != want {
			t.Errorf("response %d: expected %q, got %s (%v)", i, want, resps[i].Result, resps[i].Error)
		}
	}
	if resps[3].Error == nil {
		t.Error("expected missing response to fail only its own request")
	}
}

func TestHTTPProvider_RateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewHTTPProvider("eth-mock", server.URL, 5*time.Second)
	_, err := p.Call(context.Background(), "eth_blockNumber", nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
	if p.IsAvailable() {
		t.Error("expected throttled provider to be unavailable")
	}
	if retry := p.Monitor.GetRetryAfter(); retry <= 0 || retry > 30*time.Second {
		t.Errorf("expected retry-after within 30s, got %v", retry)
	}

	// While throttled the provider does not hit the endpoint.
	if _, err := p.Call(context.Background(), "eth_blockNumber", nil); err == nil {
		t.Error("expected throttled error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 request to the endpoint, got %d", calls.Load())
	}
}

func TestHTTPProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewHTTPProvider("eth-mock", server.URL, 5*time.Second)
	if _, err := p.BatchCall(context.Background(), []BatchRequest{{Method: "a"}}); err == nil {
		t.Fatal("expected error for 502")
	}
	if p.GetHealth().Available {
		t.Error("expected provider marked unavailable after failures")
	}
}
