// Package health derives the node's health verdict and serves it over HTTP.
package health

import (
	"github.com/vietddude/blockmon/internal/core/state"
)

// SystemStatus is the status string reported to monitors.
type SystemStatus string

const (
	StatusHealthy   SystemStatus = "healthy"
	StatusUnhealthy SystemStatus = "unhealthy"
)

// Reasons reported alongside an unhealthy verdict.
const (
	ReasonForced  = "forced"
	ReasonNoBlock = "no block observed"
	ReasonStale   = "stale block"
)

// Verdict is the result of one evaluation. It is not cached.
type Verdict struct {
	Healthy      bool
	Reason       string
	StaleSeconds uint64
}

// Status maps the verdict to its reported status string.
func (v Verdict) Status() SystemStatus {
	if v.Healthy {
		return StatusHealthy
	}
	return StatusUnhealthy
}

// Evaluate decides health from a snapshot and the current unix time in seconds.
// A block exactly blockFrequency seconds old is still healthy.
func Evaluate(snap state.Snapshot, now uint64) Verdict {
	if snap.ForceUnhealthy {
		return Verdict{Reason: ReasonForced}
	}
	if snap.Latest == nil {
		return Verdict{Reason: ReasonNoBlock}
	}

	// Node clock ahead of ours counts as perfectly fresh.
	var stale uint64
	if now > snap.Latest.Timestamp {
		stale = now - snap.Latest.Timestamp
	}

	if stale > snap.BlockFrequency {
		return Verdict{Reason: ReasonStale, StaleSeconds: stale}
	}
	return Verdict{Healthy: true, StaleSeconds: stale}
}
