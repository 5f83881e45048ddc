// Package batch coalesces concurrent JSON-RPC calls into batched wire requests.
//
// Calls are queued and flushed when the batching window elapses or the queue
// reaches its size ceiling, whichever comes first. Only the flush routine
// drains the queue and it always takes the whole queue at once.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/chainwallet/internal/indexing/metrics"
	"github.com/vietddude/chainwallet/internal/infra/rpc/provider"
)

// ErrBatchFailed is returned to every caller of a batch whose transport call
// failed. The endpoint failure has already been reported once through
// Config.OnBatchFailed, so callers must not report it again.
var ErrBatchFailed = errors.New("batch failed")

const (
	DefaultWindow  = 10 * time.Millisecond
	DefaultMaxSize = 100
	DefaultTimeout = 30 * time.Second
)

// Config controls batching behaviour.
type Config struct {
	Chain   string        // metrics label
	Window  time.Duration // time to wait for more calls after the first one
	MaxSize int           // flush immediately at this many queued calls
	Timeout time.Duration // deadline for one wire batch

	// OnBatchFailed runs once per failed transport call.
	OnBatchFailed func(p provider.RPCProvider, err error)
}

type result struct {
	data json.RawMessage
	err  error
}

type call struct {
	req  provider.BatchRequest
	done chan result
}

// Batcher wraps an RPCProvider and batches its single calls. It satisfies
// RPCProvider itself so it can stand in for the endpoint it wraps.
type Batcher struct {
	inner  provider.RPCProvider
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	queue []*call
	timer *time.Timer
}

// New creates a Batcher around p.
func New(p provider.RPCProvider, cfg Config) *Batcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Batcher{
		inner:  p,
		cfg:    cfg,
		logger: slog.Default().With("component", "batcher", "endpoint", p.GetName()),
	}
}

// Call queues a request and waits for its own response. If ctx ends first
// the response is discarded when it arrives.
func (b *Batcher) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	c := &call{
		req:  provider.BatchRequest{Method: method, Params: params},
		done: make(chan result, 1),
	}

	b.mu.Lock()
	b.queue = append(b.queue, c)
	switch {
	case len(b.queue) >= b.cfg.MaxSize:
		q := b.take()
		b.mu.Unlock()
		go b.send(q)
	case b.timer == nil:
		b.timer = time.AfterFunc(b.cfg.Window, b.flush)
		b.mu.Unlock()
	default:
		b.mu.Unlock()
	}

	select {
	case r := <-c.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// take swaps out the queue. Caller holds b.mu.
func (b *Batcher) take() []*call {
	q := b.queue
	b.queue = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return q
}

func (b *Batcher) flush() {
	b.mu.Lock()
	q := b.take()
	b.mu.Unlock()
	b.send(q)
}

func (b *Batcher) send(q []*call) {
	if len(q) == 0 {
		return
	}
	metrics.BatchSize.WithLabelValues(b.cfg.Chain).Observe(float64(len(q)))

	reqs := make([]provider.BatchRequest, len(q))
	for i, c := range q {
		reqs[i] = c.req
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()

	resps, err := b.inner.BatchCall(ctx, reqs)
	if err == nil && len(resps) != len(q) {
		err = fmt.Errorf("got %d responses for %d requests", len(resps), len(q))
	}
	if err != nil {
		b.logger.Debug("batch failed", "size", len(q), "error", err)
		if b.cfg.OnBatchFailed != nil {
			b.cfg.OnBatchFailed(b.inner, err)
		}
		failed := fmt.Errorf("%w: %w", ErrBatchFailed, err)
		for _, c := range q {
			c.done <- result{err: failed}
		}
		return
	}

	for i, c := range q {
		c.done <- result{data: resps[i].Result, err: resps[i].Error}
	}
}

// BatchCall passes an explicit batch straight through.
func (b *Batcher) BatchCall(ctx context.Context, requests []provider.BatchRequest) ([]provider.BatchResponse, error) {
	return b.inner.BatchCall(ctx, requests)
}

// Pending reports the number of queued calls.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Batcher) GetName() string                  { return b.inner.GetName() }
func (b *Batcher) GetHealth() provider.HealthStatus { return b.inner.GetHealth() }
func (b *Batcher) IsAvailable() bool                { return b.inner.IsAvailable() }

// Close flushes anything still queued, then closes the wrapped provider.
func (b *Batcher) Close() error {
	b.flush()
	return b.inner.Close()
}
