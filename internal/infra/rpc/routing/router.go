// Package routing handles endpoint selection and failover.
//
// This package contains:
//   - Router: ordered endpoint list with health tracking and failover
//   - ClassifyError: expected-error allow-list versus endpoint failures
//   - Backoff: exponential delays for cooldowns and redials
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/chainwallet/internal/indexing/metrics"
	"github.com/vietddude/chainwallet/internal/infra/rpc/batch"
	"github.com/vietddude/chainwallet/internal/infra/rpc/provider"
)

// ErrNoEndpoints is returned by a router built without endpoints.
var ErrNoEndpoints = errors.New("no endpoints")

var _ provider.RPCProvider = (*Router)(nil)

type endpointHealth struct {
	successCount     int
	failureCount     int
	totalLatency     time.Duration
	lastSuccessAt    time.Time
	lastFailureAt    time.Time
	consecutiveFails int
	unhealthyUntil   time.Time
}

type endpoint struct {
	p      provider.RPCProvider
	health endpointHealth
}

// EndpointStatus is a read-only view of one endpoint.
type EndpointStatus struct {
	Name             string
	Healthy          bool
	Current          bool
	ConsecutiveFails int
	AverageLatency   time.Duration
	LastFailureAt    time.Time
}

// Router sends calls to the preferred endpoint of one chain and fails over
// to the next one on endpoint errors. The preferred endpoint sticks to the
// last one that answered.
type Router struct {
	chain    string
	cooldown RetryConfig
	logger   *slog.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	current   int
}

// NewRouter creates a router over providers in priority order.
func NewRouter(chain string, providers []provider.RPCProvider) *Router {
	r := &Router{
		chain: chain,
		cooldown: RetryConfig{
			InitialDelay:    5 * time.Second,
			MaxDelay:        5 * time.Minute,
			BackoffMultiple: 2.0,
		},
		logger: slog.Default().With("component", "router", "chain", chain),
	}
	for _, p := range providers {
		r.endpoints = append(r.endpoints, &endpoint{p: p, health: endpointHealth{lastSuccessAt: time.Now()}})
	}
	return r
}

// SetCooldown overrides how long a failing endpoint is skipped.
func (r *Router) SetCooldown(cfg RetryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldown = cfg
}

// Current returns the preferred endpoint.
func (r *Router) Current() provider.RPCProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.endpoints) == 0 {
		return nil
	}
	return r.endpoints[r.current].p
}

// candidates returns endpoint indexes starting at the preferred one, healthy
// endpoints first. Unhealthy ones are still tried when nothing else is left.
func (r *Router) candidates() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	n := len(r.endpoints)
	healthy := make([]int, 0, n)
	var cooling []int
	for i := 0; i < n; i++ {
		idx := (r.current + i) % n
		e := r.endpoints[idx]
		if now.Before(e.health.unhealthyUntil) || !e.p.IsAvailable() {
			cooling = append(cooling, idx)
			continue
		}
		healthy = append(healthy, idx)
	}
	return append(healthy, cooling...)
}

// do runs fn against each candidate until one succeeds, the error is
// expected, or ctx ends.
func (r *Router) do(ctx context.Context, method string, fn func(p provider.RPCProvider) error) error {
	order := r.candidates()
	if len(order) == 0 {
		return fmt.Errorf("chain %s: %w", r.chain, ErrNoEndpoints)
	}

	var lastErr error
	for i, idx := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := r.endpoints[idx].p
		name := p.GetName()

		start := time.Now()
		err := fn(p)
		latency := time.Since(start)
		metrics.RPCCallsTotal.WithLabelValues(r.chain, name, method).Inc()
		metrics.RPCLatency.WithLabelValues(r.chain, name, method).Observe(latency.Seconds())

		if err == nil {
			r.recordSuccess(idx, latency)
			return nil
		}

		action := ClassifyError(err)
		metrics.RPCErrorsTotal.WithLabelValues(r.chain, name, action.String()).Inc()
		switch action {
		case ActionExpected:
			r.recordSuccess(idx, latency)
			return err
		case ActionAbort:
			if ctx.Err() != nil {
				return err
			}
			// The endpoint timed out on its own deadline.
		}

		lastErr = err
		// A failed batch was already recorded by the batcher hook.
		if !errors.Is(err, batch.ErrBatchFailed) {
			r.RecordFailure(name, err)
		}
		if i < len(order)-1 {
			metrics.RPCFailoversTotal.WithLabelValues(r.chain, name).Inc()
			r.logger.Debug("endpoint failed, trying next", "endpoint", name, "method", method, "error", err)
		}
	}
	return fmt.Errorf("all endpoints failed: %w", lastErr)
}

// Call makes a single call with failover.
func (r *Router) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	var out json.RawMessage
	err := r.do(ctx, method, func(p provider.RPCProvider) error {
		res, err := p.Call(ctx, method, params)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BatchCall sends an explicit batch with failover on transport errors.
func (r *Router) BatchCall(ctx context.Context, requests []provider.BatchRequest) ([]provider.BatchResponse, error) {
	var out []provider.BatchResponse
	err := r.do(ctx, "batch", func(p provider.RPCProvider) error {
		res, err := p.BatchCall(ctx, requests)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Router) recordSuccess(idx int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := &r.endpoints[idx].health
	h.successCount++
	h.totalLatency += latency
	h.lastSuccessAt = time.Now()
	h.consecutiveFails = 0
	h.unhealthyUntil = time.Time{}
	r.current = idx
}

// RecordFailure marks the named endpoint unhealthy. The cooldown grows with
// consecutive failures.
func (r *Router) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.endpoints {
		if e.p.GetName() != name {
			continue
		}
		h := &e.health
		h.failureCount++
		h.consecutiveFails++
		h.lastFailureAt = time.Now()
		h.unhealthyUntil = h.lastFailureAt.Add(calculateBackoff(h.consecutiveFails-1, r.cooldown))
		r.logger.Warn("endpoint marked unhealthy",
			"endpoint", name,
			"consecutive_fails", h.consecutiveFails,
			"until", h.unhealthyUntil.Format(time.RFC3339),
			"error", err,
		)
		return
	}
}

// Status returns per-endpoint health in priority order.
func (r *Router) Status() []EndpointStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make([]EndpointStatus, len(r.endpoints))
	for i, e := range r.endpoints {
		var avg time.Duration
		if e.health.successCount > 0 {
			avg = e.health.totalLatency / time.Duration(e.health.successCount)
		}
		out[i] = EndpointStatus{
			Name:             e.p.GetName(),
			Healthy:          !now.Before(e.health.unhealthyUntil) && e.p.IsAvailable(),
			Current:          i == r.current,
			ConsecutiveFails: e.health.consecutiveFails,
			AverageLatency:   avg,
			LastFailureAt:    e.health.lastFailureAt,
		}
	}
	return out
}

// GetName returns the chain the router serves.
func (r *Router) GetName() string {
	return r.chain
}

// GetHealth folds endpoint health into one status. The router is available
// while any endpoint is healthy; latency is that of the preferred endpoint.
func (r *Router) GetHealth() provider.HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var h provider.HealthStatus
	var successes, failures int
	for i, e := range r.endpoints {
		successes += e.health.successCount
		failures += e.health.failureCount
		if !now.Before(e.health.unhealthyUntil) && e.p.IsAvailable() {
			h.Available = true
		}
		if e.health.lastSuccessAt.After(h.LastSuccessAt) {
			h.LastSuccessAt = e.health.lastSuccessAt
		}
		if e.health.lastFailureAt.After(h.LastFailureAt) {
			h.LastFailureAt = e.health.lastFailureAt
		}
		if i == r.current && e.health.successCount > 0 {
			h.Latency = e.health.totalLatency / time.Duration(e.health.successCount)
		}
	}
	if total := successes + failures; total > 0 {
		h.ErrorRate = float64(failures) / float64(total)
	}
	return h
}

// IsAvailable reports whether any endpoint can take calls.
func (r *Router) IsAvailable() bool {
	return r.GetHealth().Available
}

// Close closes every endpoint.
func (r *Router) Close() error {
	r.mu.Lock()
	eps := r.endpoints
	r.mu.Unlock()

	var errs []error
	for _, e := range eps {
		if err := e.p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
