package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeNode is a minimal websocket JSON-RPC node. Subscribing to
// "test_subscribe" immediately pushes two notifications.
type fakeNode struct {
	mu           sync.Mutex
	unsubscribed []string
}

func (n *fakeNode) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var req struct {
				ID     uint64 `json:"id"`
				Method string `json:"method"`
				Params []any  `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			switch req.Method {
			case "test_echo":
				_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": req.Params})
			case "test_subscribe":
				// Notification before the response exercises early buffering.
				_ = conn.WriteJSON(notification("sub-1", 1))
				_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "sub-1"})
				_ = conn.WriteJSON(notification("sub-1", 2))
			case "test_unsubscribe":
				n.mu.Lock()
				n.unsubscribed = append(n.unsubscribed, req.Params[0].(string))
				n.mu.Unlock()
				_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": true})
			default:
				_ = conn.WriteJSON(map[string]any{
					"jsonrpc": "2.0", "id": req.ID,
					"error": map[string]any{"code": -32601, "message": "Method not found"},
				})
			}
		}
	}
}

func notification(sub string, n int) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  "test_notify",
		"params":  map[string]any{"subscription": sub, "result": n},
	}
}

func dialFake(t *testing.T, node *fakeNode) (*WSProvider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(node.handler(t))
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	p, err := DialWS(context.Background(), "fake", url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p, server
}

func TestWSProvider_Call(t *testing.T) {
	p, server := dialFake(t, &fakeNode{})
	defer server.Close()
	defer p.Close()

	result, err := p.Call(context.Background(), "test_echo", []any{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `["hello"]` {
		t.Errorf("unexpected result %s", result)
	}

	_, err = p.Call(context.Background(), "nope", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("expected method not found, got %v", err)
	}

	resps, err := p.BatchCall(context.Background(), []BatchRequest{
		{Method: "test_echo", Params: []any{1}},
		{Method: "test_echo", Params: []any{2}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resps[0].Result) != "[1]" || string(resps[1].Result) != "[2]" {
		t.Errorf("unexpected batch results %s %s", resps[0].Result, resps[1].Result)
	}
}

func TestWSProvider_Subscribe(t *testing.T) {
	node := &fakeNode{}
	p, server := dialFake(t, node)
	defer server.Close()
	defer p.Close()

	got := make(chan int, 4)
	unsubscribe, err := p.Subscribe(context.Background(), "test_subscribe", "test_unsubscribe", "test_notify", nil,
		func(n Notification) {
			if n.Err != nil {
				return
			}
			var v int
			_ = json.Unmarshal(n.Result, &v)
			got <- v
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []int{1, 2} {
		select {
		case v := <-got:
			if v != want {
				t.Errorf("expected notification %d, got %d", want, v)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for notification %d", want)
		}
	}

	unsubscribe()
	unsubscribe()

	node.mu.Lock()
	defer node.mu.Unlock()
	if len(node.unsubscribed) != 1 || node.unsubscribed[0] != "sub-1" {
		t.Errorf("expected exactly one unsubscribe for sub-1, got %v", node.unsubscribed)
	}
}

func TestWSProvider_CloseNotifiesSubscribers(t *testing.T) {
	p, server := dialFake(t, &fakeNode{})
	defer server.Close()

	errs := make(chan error, 4)
	_, err := p.Subscribe(context.Background(), "test_subscribe", "test_unsubscribe", "test_notify", nil,
		func(n Notification) {
			if n.Err != nil {
				errs <- n.Err
			}
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = p.Close()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close notification")
	}

	<-p.Done()
	if _, err := p.Call(context.Background(), "test_echo", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}
