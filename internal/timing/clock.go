package timing

import "time"

// Clock is a 64-bit monotonic clock composed from two chained 32-bit
// down-counters. It also places 16-bit hardware capture timestamps on that
// clock.
type Clock struct {
	lo, hi Counter
	refHz  uint64
	tsHz   uint64
}

// NewClock builds a clock from the low and high channels counting at refHz.
// tsHz is the rate of the peripheral's 16-bit timestamp counter.
func NewClock(lo, hi Counter, refHz, tsHz uint32) *Clock {
	if tsHz == 0 {
		tsHz = refHz
	}
	return &Clock{lo: lo, hi: hi, refHz: uint64(refHz), tsHz: uint64(tsHz)}
}

// Ticks returns the reference ticks elapsed since the channels were started.
// The high word is sampled on both sides of the low word so a carry between
// the reads is never observed half applied.
func (c *Clock) Ticks() uint64 {
	for {
		h1 := c.hi.Value()
		l := c.lo.Value()
		h2 := c.hi.Value()
		if h1 == h2 {
			return uint64(CounterMax-h1)<<32 | uint64(CounterMax-l)
		}
	}
}

// Now returns the current monotonic time.
func (c *Clock) Now() time.Duration { return c.duration(c.Ticks()) }

// Resolve returns the monotonic time at which the peripheral counter read
// captured, given that it reads now at this instant. The counter wraps at
// 16 bits; the distance is taken modulo 2^16, so captures up to one full
// counter period old resolve correctly.
func (c *Clock) Resolve(now, captured uint16) time.Duration {
	delta := uint64(now - captured)
	ref := c.Ticks()
	back := delta * c.refHz / c.tsHz
	if back > ref {
		back = ref
	}
	return c.duration(ref - back)
}

// duration converts reference ticks to microsecond resolution.
func (c *Clock) duration(ticks uint64) time.Duration {
	us := ticks/c.refHz*1e6 + ticks%c.refHz*1e6/c.refHz
	return time.Duration(us) * time.Microsecond
}
