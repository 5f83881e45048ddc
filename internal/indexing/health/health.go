// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// worse returns the more severe of a and b.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// EndpointHealth describes one RPC endpoint of a chain.
type EndpointHealth struct {
	Name             string  `json:"name"`
	Healthy          bool    `json:"healthy"`
	Current          bool    `json:"current"`
	ConsecutiveFails int     `json:"consecutive_fails"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// FeedHealth describes one running balance feed.
type FeedHealth struct {
	Source       string    `json:"source"`
	Subscription string    `json:"subscription"`
	Emissions    int64     `json:"emissions"`
	Duplicates   int64     `json:"duplicates"`
	Errors       int64     `json:"errors"`
	LastEmission time.Time `json:"last_emission,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// ChainHealth contains health data for one chain or EVM network.
type ChainHealth struct {
	ChainID   string           `json:"chain_id"`
	Family    string           `json:"family"`
	Status    SystemStatus     `json:"status"`
	Connected bool             `json:"connected"`
	Endpoints []EndpointHealth `json:"endpoints,omitempty"`
	Feeds     []FeedHealth     `json:"feeds,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus           `json:"system_status"`
	Initialised  bool                   `json:"initialised"`
	Balances     int                    `json:"balances"`
	Chains       map[string]ChainHealth `json:"chains"`
}
