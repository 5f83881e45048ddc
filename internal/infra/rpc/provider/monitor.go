package provider

import (
	"strings"
	"sync"
	"time"
)

// ProviderStatus represents the health state of a provider.
type ProviderStatus int

const (
	StatusHealthy   ProviderStatus = iota // Provider is working normally
	StatusDegraded                        // Provider is slow but working
	StatusThrottled                       // Provider is rate limiting
	StatusBlocked                         // Provider has blocked this client
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	}
	return "unknown"
}

// JSON-RPC codes public nodes answer with when a client exceeds its quota.
const (
	codeLimitExceeded = -32005
	codeRateLimited   = -32029
)

const latencyWindow = 100

// throttlePatterns are lowercase fragments of quota errors from public
// EVM gateways and substrate RPC nodes.
var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
	"too many connections",
	"too many subscriptions",
}

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats struct {
	Status           ProviderStatus
	AverageLatency   time.Duration
	ThrottleCount429 int
	ThrottleCount403 int
	RequestsLastHour int
}

// ProviderMonitor tracks latency and throttling signals of one endpoint.
type ProviderMonitor struct {
	mu sync.RWMutex

	latencies  [latencyWindow]time.Duration
	latencyAt  int
	latencyN   int
	latencySum time.Duration

	status429Count int
	status403Count int
	throttledAt    time.Time
	retryAfter     time.Duration

	requestTimestamps []time.Time

	slowResponseThreshold time.Duration
}

// NewProviderMonitor creates a new monitor with default settings.
func NewProviderMonitor() *ProviderMonitor {
	return &ProviderMonitor{slowResponseThreshold: 3 * time.Second}
}

// RecordRequest records a successful request with its latency.
func (pm *ProviderMonitor) RecordRequest(latency time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.latencyN == latencyWindow {
		pm.latencySum -= pm.latencies[pm.latencyAt]
	} else {
		pm.latencyN++
	}
	pm.latencies[pm.latencyAt] = latency
	pm.latencySum += latency
	pm.latencyAt = (pm.latencyAt + 1) % latencyWindow

	now := time.Now()
	pm.requestTimestamps = append(pm.requestTimestamps, now)
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(pm.requestTimestamps) && !pm.requestTimestamps[i].After(cutoff) {
		i++
	}
	pm.requestTimestamps = pm.requestTimestamps[i:]
}

// RecordThrottle records a rate limiting (429) or blocking (403) response.
func (pm *ProviderMonitor) RecordThrottle(statusCode int, retryAfter time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.throttledAt = time.Now()
	switch statusCode {
	case 429:
		pm.status429Count++
		if retryAfter <= 0 {
			retryAfter = time.Minute
		}
		pm.retryAfter = retryAfter
	case 403:
		pm.status403Count++
		pm.retryAfter = 10 * time.Minute
	}
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (pm *ProviderMonitor) DetectThrottlePattern(message string) bool {
	lowerMsg := strings.ToLower(message)
	for _, pattern := range throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// ObserveRPCError records a throttle when a JSON-RPC error is a quota error
// and reports whether it was one.
func (pm *ProviderMonitor) ObserveRPCError(e *RPCError) bool {
	if e == nil {
		return false
	}
	if e.Code != codeLimitExceeded && e.Code != codeRateLimited && !pm.DetectThrottlePattern(e.Message) {
		return false
	}
	pm.RecordThrottle(429, 0)
	return true
}

// CheckProviderStatus returns the current status of the provider.
func (pm *ProviderMonitor) CheckProviderStatus() ProviderStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.status()
}

func (pm *ProviderMonitor) status() ProviderStatus {
	inCooldown := time.Since(pm.throttledAt) < pm.retryAfter
	if pm.status403Count > 0 && inCooldown {
		return StatusBlocked
	}
	if pm.status429Count > 0 && inCooldown {
		return StatusThrottled
	}
	if pm.latencyN > 10 && pm.averageLatency() > pm.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

func (pm *ProviderMonitor) averageLatency() time.Duration {
	if pm.latencyN == 0 {
		return 0
	}
	return pm.latencySum / time.Duration(pm.latencyN)
}

// GetRetryAfter returns remaining time before retry is allowed.
func (pm *ProviderMonitor) GetRetryAfter() time.Duration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if remaining := pm.retryAfter - time.Since(pm.throttledAt); remaining > 0 {
		return remaining
	}
	return 0
}

// GetStats returns current monitoring statistics.
func (pm *ProviderMonitor) GetStats() MonitorStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return MonitorStats{
		Status:           pm.status(),
		AverageLatency:   pm.averageLatency(),
		ThrottleCount429: pm.status429Count,
		ThrottleCount403: pm.status403Count,
		RequestsLastHour: len(pm.requestTimestamps),
	}
}
