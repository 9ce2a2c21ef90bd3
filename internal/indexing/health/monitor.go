package health

import (
	"time"

	"github.com/vietddude/blockmon/internal/core/domain"
	"github.com/vietddude/blockmon/internal/core/state"
	"github.com/vietddude/blockmon/internal/infra/rpc/provider"
)

// StateReader is the read side of the monitor state used by the HTTP layer.
type StateReader interface {
	Snapshot() (state.Snapshot, error)
	ToggleForceUnhealthy() (bool, error)
}

// ProviderStats reports monitoring stats for one RPC endpoint.
type ProviderStats interface {
	GetName() string
	GetStats() provider.MonitorStats
}

// Report is the full health picture served by /health/detailed.
type Report struct {
	Status          SystemStatus                     `json:"status"`
	Reason          string                           `json:"reason,omitempty"`
	LastBlock       *domain.Block                    `json:"lastBlock"`
	FailIntentional bool                             `json:"failIntentional"`
	BlockFrequency  uint64                           `json:"blockFrequency"`
	StaleSeconds    uint64                           `json:"staleSeconds"`
	Mode            domain.IngestMode                `json:"mode"`
	Providers       map[string]provider.MonitorStats `json:"providers,omitempty"`
}

// Monitor ties the shared state to a clock and optional provider stats.
type Monitor struct {
	state     StateReader
	mode      domain.IngestMode
	providers []ProviderStats
	now       func() time.Time
}

// NewMonitor creates a health monitor over the given state.
func NewMonitor(st StateReader, mode domain.IngestMode, providers ...ProviderStats) *Monitor {
	return &Monitor{
		state:     st,
		mode:      mode,
		providers: providers,
		now:       time.Now,
	}
}

// Check evaluates health against the current wall clock.
func (m *Monitor) Check() (Verdict, state.Snapshot, error) {
	snap, err := m.state.Snapshot()
	if err != nil {
		return Verdict{}, state.Snapshot{}, err
	}
	return Evaluate(snap, uint64(m.now().Unix())), snap, nil
}

// Detailed builds the full report including per-provider stats.
func (m *Monitor) Detailed() (Report, error) {
	verdict, snap, err := m.Check()
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Status:          verdict.Status(),
		Reason:          verdict.Reason,
		LastBlock:       snap.Latest,
		FailIntentional: snap.ForceUnhealthy,
		BlockFrequency:  snap.BlockFrequency,
		StaleSeconds:    verdict.StaleSeconds,
		Mode:            m.mode,
	}

	if len(m.providers) > 0 {
		report.Providers = make(map[string]provider.MonitorStats, len(m.providers))
		for _, p := range m.providers {
			report.Providers[p.GetName()] = p.GetStats()
		}
	}
	return report, nil
}

// Toggle flips the force-unhealthy override.
func (m *Monitor) Toggle() (bool, error) {
	return m.state.ToggleForceUnhealthy()
}
