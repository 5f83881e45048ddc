package provider

import (
	"testing"
	"time"
)

func TestMonitorAccumulation(t *testing.T) {
	m := NewProviderMonitor()

	m.RecordRequest(100 * time.Millisecond)
	if stats := m.GetStats(); stats.RequestsLastHour != 1 {
		t.Errorf("Expected 1 request, got %d", stats.RequestsLastHour)
	}

	for i := 0; i < 100; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}
	stats := m.GetStats()
	if stats.RequestsLastHour != 101 {
		t.Errorf("Expected 101 requests, got %d", stats.RequestsLastHour)
	}
	if stats.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", stats.Status)
	}
}

func TestMonitorDegradedOnSlowResponses(t *testing.T) {
	m := NewProviderMonitor()
	for i := 0; i < 20; i++ {
		m.RecordRequest(5 * time.Second)
	}
	if status := m.CheckProviderStatus(); status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", status)
	}
}

func TestMonitorThrottle(t *testing.T) {
	m := NewProviderMonitor()
	m.RecordThrottle(403, 0)
	if status := m.CheckProviderStatus(); status != StatusBlocked {
		t.Errorf("Expected blocked, got %s", status)
	}
	if !m.DetectThrottlePattern("Daily Request Count Exceeded, upgrade your plan") {
		t.Error("Expected throttle pattern to match")
	}
	if m.DetectThrottlePattern("execution reverted") {
		t.Error("Expected revert not to look like throttling")
	}
}

func TestMonitorObserveRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  *RPCError
		want bool
	}{
		{"nil", nil, false},
		{"limit exceeded code", &RPCError{Code: -32005, Message: "limit"}, true},
		{"pattern", &RPCError{Code: -32000, Message: "Too Many Connections"}, true},
		{"revert", &RPCError{Code: 3, Message: "execution reverted"}, false},
	}
	for _, tt := range tests {
		m := NewProviderMonitor()
		if got := m.ObserveRPCError(tt.err); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
		throttled := m.CheckProviderStatus() == StatusThrottled
		if throttled != tt.want {
			t.Errorf("%s: throttled %v, want %v", tt.name, throttled, tt.want)
		}
	}
}
