package ingest

import (
	"context"
	"time"
)

// Grace is added after each frequency boundary so the node has time to
// publish the block produced on that boundary.
const Grace = time.Second

// NextTick returns the first instant strictly after now that lies on a
// multiple of frequency seconds since the Unix epoch, plus Grace.
// Computation is done at millisecond resolution.
func NextTick(now time.Time, frequency uint64) time.Time {
	freqMs := int64(frequency) * 1000
	nowMs := now.UnixMilli()
	delay := freqMs - nowMs%freqMs
	return time.UnixMilli(nowMs + delay).Add(Grace)
}

// Scheduler blocks until the next epoch-aligned poll instant.
type Scheduler struct {
	frequency uint64

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewScheduler returns a scheduler on the wall clock.
func NewScheduler(frequency uint64) *Scheduler {
	return &Scheduler{
		frequency: frequency,
		now:       time.Now,
		after:     time.After,
	}
}

// Wait sleeps until the next tick and returns its time.
func (s *Scheduler) Wait(ctx context.Context) (time.Time, error) {
	next := NextTick(s.now(), s.frequency)

	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case <-s.after(next.Sub(s.now())):
		return next, nil
	}
}
