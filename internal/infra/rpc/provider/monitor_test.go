package provider

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMonitorAccumulatesRequests(t *testing.T) {
	m := NewProviderMonitor()

	m.RecordRequest(100 * time.Millisecond)
	if got := m.GetStats().RequestsLastHour; got != 1 {
		t.Errorf("Expected 1 request, got %d", got)
	}

	for i := 0; i < 100; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}

	stats := m.GetStats()
	if stats.RequestsLastHour != 101 {
		t.Errorf("Expected 101 requests, got %d", stats.RequestsLastHour)
	}
	if stats.AverageLatencyMs != 50 {
		t.Errorf("Expected 50ms average over the latency window, got %d", stats.AverageLatencyMs)
	}
	if stats.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", stats.Status)
	}
}

func TestMonitorSlidingWindow(t *testing.T) {
	m := NewProviderMonitor()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	m.RecordRequest(10 * time.Millisecond)
	now = now.Add(2 * time.Hour)
	m.RecordRequest(10 * time.Millisecond)

	if got := m.GetStats().RequestsLastHour; got != 1 {
		t.Errorf("Expected old request to fall out of the window, got %d", got)
	}
}

func TestMonitorThrottleCooldown(t *testing.T) {
	m := NewProviderMonitor()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	m.RecordThrottle(429, "30")
	if s := m.GetStats().Status; s != StatusThrottled {
		t.Fatalf("Expected throttled, got %s", s)
	}

	now = now.Add(31 * time.Second)
	if s := m.GetStats().Status; s != StatusHealthy {
		t.Errorf("Expected healthy after cooldown, got %s", s)
	}

	m.RecordThrottle(403, "")
	stats := m.GetStats()
	if stats.Status != StatusBlocked {
		t.Errorf("Expected blocked, got %s", stats.Status)
	}
	if stats.Throttled429 != 1 || stats.Blocked403 != 1 {
		t.Errorf("Unexpected counters: %+v", stats)
	}
}

func TestDetectThrottlePattern(t *testing.T) {
	m := NewProviderMonitor()

	if !m.DetectThrottlePattern("Too Many Requests, slow down") {
		t.Error("Expected pattern to match case-insensitively")
	}
	if m.DetectThrottlePattern("header not found") {
		t.Error("Unexpected match")
	}
}

func TestMonitorStatsJSON(t *testing.T) {
	data, err := json.Marshal(NewProviderMonitor().GetStats())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"status":"healthy"`) {
		t.Errorf("Expected status by name, got %s", data)
	}
	if strings.Contains(string(data), "lastThrottleAt") {
		t.Errorf("Expected lastThrottleAt to be omitted, got %s", data)
	}
}
