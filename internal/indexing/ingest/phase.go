package ingest

import (
	"errors"
)

// Phase is the position of the ingestion loop within one cycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseFetching    Phase = "fetching"
	PhaseReconciling Phase = "reconciling"
	PhaseUpdated     Phase = "updated"
)

// ErrInvalidTransition is returned when the loop attempts an illegal phase change.
var ErrInvalidTransition = errors.New("invalid phase transition")

// ValidTransitions defines allowed phase transitions.
// Key is the current phase, value is the list of valid next phases.
var ValidTransitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseFetching},
	PhaseFetching:    {PhaseReconciling, PhaseUpdated, PhaseIdle},
	PhaseReconciling: {PhaseUpdated},
	PhaseUpdated:     {PhaseIdle},
}

// CanTransition checks if a transition from one phase to another is valid.
func CanTransition(from, to Phase) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
