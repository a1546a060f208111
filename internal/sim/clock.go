// Package sim models the board peripherals the driver programs: clock tree,
// periodic interrupt timer, interrupt controller and FlexCAN instances joined
// by a broadcast bus. It lets the driver run unmodified on a host.
package sim

import (
	"sync/atomic"
	"time"
)

// Clock is the time base every simulated peripheral counts from.
type Clock interface {
	Now() time.Duration
}

// RealClock follows the host's monotonic clock.
type RealClock struct{ start time.Time }

// NewRealClock returns a clock starting at zero now.
func NewRealClock() *RealClock { return &RealClock{start: time.Now()} }

func (c *RealClock) Now() time.Duration { return time.Since(c.start) }

// StepClock advances by a fixed step every time it is read, so polling loops
// observe time passing without sleeping. Tests use it for deterministic
// timeouts.
type StepClock struct {
	step time.Duration
	now  atomic.Int64
}

// NewStepClock returns a clock advancing step per read.
func NewStepClock(step time.Duration) *StepClock { return &StepClock{step: step} }

func (c *StepClock) Now() time.Duration { return time.Duration(c.now.Add(int64(c.step))) }

// Advance moves the clock forward by d without a read.
func (c *StepClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

// ticksAt converts elapsed time to ticks of a hz counter without overflowing
// for long runs.
func ticksAt(d time.Duration, hz uint64) uint64 {
	if d <= 0 {
		return 0
	}
	ns := uint64(d)
	return ns/1e9*hz + ns%1e9*hz/1e9
}
