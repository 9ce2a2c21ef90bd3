package provider

import (
	"strings"
	"sync"
	"time"
)

// ProviderStatus represents the observed condition of an upstream node.
type ProviderStatus int

const (
	StatusHealthy   ProviderStatus = iota // answering normally
	StatusDegraded                        // answering slowly
	StatusThrottled                       // rate limiting us
	StatusBlocked                         // refusing us outright
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
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON reports.
func (s ProviderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MonitorStats is a point-in-time view of a provider's behaviour.
type MonitorStats struct {
	Status           ProviderStatus `json:"status"`
	AverageLatencyMs int64          `json:"averageLatencyMs"`
	Throttled429     int            `json:"throttled429"`
	Blocked403       int            `json:"blocked403"`
	RequestsLastHour int            `json:"requestsLastHour"`
	LastThrottleAt   *time.Time     `json:"lastThrottleAt,omitempty"`
}

// ProviderMonitor tracks latency and throttling for one upstream node.
type ProviderMonitor struct {
	mu sync.RWMutex

	latencies    []time.Duration
	latencyLimit int

	count429     int
	count403     int
	patterns     []string
	lastThrottle time.Time
	cooldown     time.Duration

	requests []time.Time
	window   time.Duration

	slowThreshold time.Duration
	now           func() time.Time
}

// NewProviderMonitor creates a monitor with default thresholds.
func NewProviderMonitor() *ProviderMonitor {
	return &ProviderMonitor{
		latencies:    make([]time.Duration, 0, 64),
		latencyLimit: 64,
		patterns: []string{
			"rate limit exceeded",
			"too many requests",
			"daily request count exceeded",
			"project rate limit",
			"monthly quota exceeded",
		},
		window:        time.Hour,
		slowThreshold: 3 * time.Second,
		now:           time.Now,
	}
}

// RecordRequest records a successful request with its latency.
func (pm *ProviderMonitor) RecordRequest(latency time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.latencies = append(pm.latencies, latency)
	if len(pm.latencies) > pm.latencyLimit {
		pm.latencies = pm.latencies[1:]
	}

	now := pm.now()
	pm.requests = append(pm.requests, now)
	pm.pruneLocked(now)
}

// RecordThrottle records a 429 or 403 response.
func (pm *ProviderMonitor) RecordThrottle(statusCode int, retryAfter string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.lastThrottle = pm.now()

	switch statusCode {
	case 429:
		pm.count429++
		pm.cooldown = time.Minute
		if d, err := time.ParseDuration(retryAfter + "s"); err == nil && d > 0 {
			pm.cooldown = d
		}
	case 403:
		pm.count403++
		pm.cooldown = 10 * time.Minute
	}
}

// DetectThrottlePattern reports whether a message looks like a rate-limit reply.
func (pm *ProviderMonitor) DetectThrottlePattern(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range pm.patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// GetStats returns current monitoring statistics.
func (pm *ProviderMonitor) GetStats() MonitorStats {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	now := pm.now()
	pm.pruneLocked(now)

	avg := pm.averageLocked()
	stats := MonitorStats{
		Status:           pm.statusLocked(now, avg),
		AverageLatencyMs: avg.Milliseconds(),
		Throttled429:     pm.count429,
		Blocked403:       pm.count403,
		RequestsLastHour: len(pm.requests),
	}
	if !pm.lastThrottle.IsZero() {
		t := pm.lastThrottle
		stats.LastThrottleAt = &t
	}
	return stats
}

func (pm *ProviderMonitor) statusLocked(now time.Time, avg time.Duration) ProviderStatus {
	cooling := now.Sub(pm.lastThrottle) < pm.cooldown
	if pm.count403 > 0 && cooling {
		return StatusBlocked
	}
	if pm.count429 > 0 && cooling {
		return StatusThrottled
	}
	if len(pm.latencies) >= 10 && avg > pm.slowThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

func (pm *ProviderMonitor) averageLocked() time.Duration {
	if len(pm.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range pm.latencies {
		total += l
	}
	return total / time.Duration(len(pm.latencies))
}

func (pm *ProviderMonitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-pm.window)
	i := 0
	for i < len(pm.requests) && !pm.requests[i].After(cutoff) {
		i++
	}
	pm.requests = pm.requests[i:]
}
