package provider

import (
	"sync"
	"time"
)

// healthWindow is the number of recent outcomes the error rate is taken over.
const healthWindow = 20

// BaseProvider tracks endpoint health for the concrete providers. The error
// rate covers the last healthWindow calls so an endpoint that recovers
// becomes available again without a restart.
type BaseProvider struct {
	Name string

	mu       sync.RWMutex
	outcomes [healthWindow]bool // true is a failure
	next     int
	filled   int
	failures int
	latency  time.Duration
	health   HealthStatus

	Monitor *ProviderMonitor
}

// NewBaseProvider creates a BaseProvider that starts out available.
func NewBaseProvider(name string) *BaseProvider {
	return &BaseProvider{
		Name:    name,
		health:  HealthStatus{Available: true, LastSuccessAt: time.Now()},
		Monitor: NewProviderMonitor(),
	}
}

func (p *BaseProvider) GetName() string {
	return p.Name
}

// GetHealth returns a copy of the health state with monitor stats attached.
func (p *BaseProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	h := p.health
	p.mu.RUnlock()

	stats := p.Monitor.GetStats()
	h.MonitorStats = &stats
	return h
}

// IsAvailable is false while the endpoint is throttled or its recent error
// rate is above one half.
func (p *BaseProvider) IsAvailable() bool {
	switch p.Monitor.CheckProviderStatus() {
	case StatusHealthy, StatusDegraded:
	default:
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health.Available
}

// RecordSuccess records a completed call.
func (p *BaseProvider) RecordSuccess(latency time.Duration) {
	p.mu.Lock()
	p.push(false)
	// EWMA with alpha 1/4
	if p.latency == 0 {
		p.latency = latency
	} else {
		p.latency += (latency - p.latency) / 4
	}
	p.health.Latency = p.latency
	p.health.LastSuccessAt = time.Now()
	p.mu.Unlock()

	p.Monitor.RecordRequest(latency)
}

// RecordFailure records a failed call.
func (p *BaseProvider) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.push(true)
	p.health.LastFailureAt = time.Now()
}

func (p *BaseProvider) push(failed bool) {
	if p.filled == healthWindow {
		if p.outcomes[p.next] {
			p.failures--
		}
	} else {
		p.filled++
	}
	p.outcomes[p.next] = failed
	if failed {
		p.failures++
	}
	p.next = (p.next + 1) % healthWindow

	p.health.ErrorRate = float64(p.failures) / float64(p.filled)
	p.health.Available = p.health.ErrorRate <= 0.5
}
