// Package state holds the monitor's single shared record: the latest observed
// block, the operator's force-unhealthy override and the expected block frequency.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vietddude/blockmon/internal/core/domain"
)

var (
	// ErrStateAccess is returned by every operation once a critical section has
	// failed while holding the lock. The contents can no longer be trusted.
	ErrStateAccess = errors.New("monitor state is no longer accessible")

	// ErrInvalidFrequency is returned by New for a zero block frequency.
	ErrInvalidFrequency = errors.New("block frequency must be greater than zero")
)

// AccessError describes the operation that poisoned the state.
type AccessError struct {
	Op    string
	Cause any
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%v: %s failed: %v", ErrStateAccess, e.Op, e.Cause)
}

func (e *AccessError) Is(target error) bool {
	return target == ErrStateAccess
}

// Snapshot is an independent copy of the state at one instant.
type Snapshot struct {
	Latest         *domain.Block
	ForceUnhealthy bool
	BlockFrequency uint64
}

// MonitorState is safe for concurrent use. The lock is held only for the
// duration of a single read or write, never across I/O.
type MonitorState struct {
	mu             sync.Mutex
	latest         *domain.Block
	forceUnhealthy bool
	blockFrequency uint64

	poisoned *AccessError
}

// New creates the state with the expected seconds between blocks.
func New(blockFrequency uint64) (*MonitorState, error) {
	if blockFrequency == 0 {
		return nil, ErrInvalidFrequency
	}
	return &MonitorState{blockFrequency: blockFrequency}, nil
}

// BlockFrequency returns the configured interval in seconds. It never changes.
func (s *MonitorState) BlockFrequency() uint64 {
	return s.blockFrequency
}

// Update replaces the latest block. No ordering is enforced: whatever the source
// delivered last is the current truth.
func (s *MonitorState) Update(block domain.Block) error {
	return s.guard("update", func() {
		b := block
		s.latest = &b
	})
}

// ToggleForceUnhealthy flips the override and returns its new value.
func (s *MonitorState) ToggleForceUnhealthy() (bool, error) {
	var v bool
	err := s.guard("toggle", func() {
		s.forceUnhealthy = !s.forceUnhealthy
		v = s.forceUnhealthy
	})
	return v, err
}

// Snapshot returns a copy that shares no memory with the state.
func (s *MonitorState) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.guard("snapshot", func() {
		snap.ForceUnhealthy = s.forceUnhealthy
		snap.BlockFrequency = s.blockFrequency
		if s.latest != nil {
			b := *s.latest
			snap.Latest = &b
		}
	})
	return snap, err
}

// guard runs fn under the lock. A panic inside fn poisons the state instead of
// leaving a half-written record readable.
func (s *MonitorState) guard(op string, fn func()) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned != nil {
		return s.poisoned
	}

	defer func() {
		if r := recover(); r != nil {
			s.poisoned = &AccessError{Op: op, Cause: r}
			err = s.poisoned
		}
	}()

	fn()
	return nil
}
