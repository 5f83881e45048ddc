// Package provider implements JSON-RPC endpoint clients.
//
// This package contains:
//   - Provider / RPCProvider interfaces: core abstraction for RPC endpoints
//   - HTTPProvider: JSON-RPC 2.0 over HTTP (single and batched calls)
//   - WSProvider: JSON-RPC 2.0 over websocket with subscriptions
//   - ProviderMonitor: health and throttle tracking
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned for calls on a closed provider.
var ErrClosed = errors.New("provider closed")

// Provider is the health and lifecycle surface of an endpoint.
type Provider interface {
	// GetName returns the endpoint identifier
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the endpoint is healthy enough to use
	IsAvailable() bool

	// Close cleans up resources
	Close() error
}

// RPCProvider extends Provider with JSON-RPC calls.
type RPCProvider interface {
	Provider

	// Call makes a single RPC request
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// BatchCall makes multiple RPC calls in one request. Responses are
	// returned in request order whatever order the endpoint answered in.
	BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error)
}

// BatchRequest represents a single request in a batch call.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse represents a single response from a batch call.
type BatchResponse struct {
	Result json.RawMessage
	Error  error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool
	Latency       time.Duration
	ErrorRate     float64
	LastSuccessAt time.Time
	LastFailureAt time.Time
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`

	// Notifications carry method and params instead of an id.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

func newRequest(id uint64, method string, params []any) request {
	if params == nil {
		params = []any{}
	}
	return request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// correlate matches responses to requests by id. A request with no matching
// response gets an error of its own; the other callers are unaffected.
func correlate(reqs []request, resps []response) []BatchResponse {
	byID := make(map[uint64]response, len(resps))
	for _, r := range resps {
		if r.ID != nil {
			byID[*r.ID] = r
		}
	}
	out := make([]BatchResponse, len(reqs))
	for i, req := range reqs {
		r, ok := byID[req.ID]
		switch {
		case !ok:
			out[i] = BatchResponse{Error: fmt.Errorf("no response for request %d (%s)", req.ID, req.Method)}
		case r.Error != nil:
			out[i] = BatchResponse{Error: r.Error}
		default:
			out[i] = BatchResponse{Result: r.Result}
		}
	}
	return out
}
