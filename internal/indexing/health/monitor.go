package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/feed"
	"github.com/vietddude/chainwallet/internal/infra/rpc/routing"
)

// SubstrateConnections reports the connection state of substrate chains.
type SubstrateConnections interface {
	Connected() map[domain.ChainID]bool
}

// EvmEndpoints reports endpoint health of EVM networks.
type EvmEndpoints interface {
	Endpoints() map[domain.EvmNetworkID][]routing.EndpointStatus
}

// FeedStatus lists running feeds.
type FeedStatus interface {
	Status() []feed.Status
}

// BalanceView exposes the aggregated balance state.
type BalanceView interface {
	Current() *balance.Balances
	Initialised() bool
}

// Monitor aggregates health status from connectors, feeds and the balance stream.
// Any of its sources may be nil.
type Monitor struct {
	substrate SubstrateConnections
	evm       EvmEndpoints
	feeds     FeedStatus
	balances  BalanceView
	ttl       time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor.
func NewMonitor(substrate SubstrateConnections, evm EvmEndpoints, feeds FeedStatus, balances BalanceView) *Monitor {
	return &Monitor{
		substrate: substrate,
		evm:       evm,
		feeds:     feeds,
		balances:  balances,
		ttl:       2 * time.Second,
	}
}

// CheckHealth builds a report, reusing a recent one within the cache ttl.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.ttl {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Chains:       make(map[string]ChainHealth),
	}

	if m.substrate != nil {
		for id, ok := range m.substrate.Connected() {
			h := ChainHealth{ChainID: string(id), Family: string(domain.FamilySubstrate), Connected: ok, Status: StatusHealthy}
			if !ok {
				h.Status = StatusCritical
			}
			report.Chains[string(id)] = h
		}
	}

	if m.evm != nil {
		for id, eps := range m.evm.Endpoints() {
			h := ChainHealth{ChainID: string(id), Family: string(domain.FamilyEVM), Status: StatusHealthy}
			healthy := 0
			for _, ep := range eps {
				if ep.Healthy {
					healthy++
				}
				h.Endpoints = append(h.Endpoints, EndpointHealth{
					Name:             ep.Name,
					Healthy:          ep.Healthy,
					Current:          ep.Current,
					ConsecutiveFails: ep.ConsecutiveFails,
					AverageLatencyMs: float64(ep.AverageLatency) / float64(time.Millisecond),
				})
			}
			h.Connected = healthy > 0 || len(eps) == 0
			switch {
			case len(eps) > 0 && healthy == 0:
				h.Status = StatusCritical
			case healthy < len(eps):
				h.Status = StatusDegraded
			}
			report.Chains[string(id)] = h
		}
	}

	if m.feeds != nil {
		for _, st := range m.feeds.Status() {
			h, ok := report.Chains[st.ChainRef]
			if !ok {
				h = ChainHealth{ChainID: st.ChainRef, Family: string(st.Source.Family()), Status: StatusHealthy, Connected: true}
			}
			h.Feeds = append(h.Feeds, FeedHealth{
				Source:       string(st.Source),
				Subscription: st.Subscription,
				Emissions:    st.Emissions,
				Duplicates:   st.Duplicates,
				Errors:       st.Errors,
				LastEmission: st.LastEmission,
				LastError:    st.LastError,
			})
			// the last delivery was an error
			if st.LastError != "" {
				h.Status = worse(h.Status, StatusDegraded)
			}
			report.Chains[st.ChainRef] = h
		}
	}

	for _, h := range report.Chains {
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	if m.balances != nil {
		report.Initialised = m.balances.Initialised()
		report.Balances = m.balances.Current().Count()
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
