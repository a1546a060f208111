// Package timing provides the timer-backed primitives of the driver: bounded
// polling waits and the wide monotonic reference clock.
package timing

// CounterMax is the reload value of a free-running 32-bit channel.
const CounterMax = 0xFFFFFFFF

// Channel assignment on the periodic interrupt timer.
const (
	ChannelRefLow    = 0 // reference clock, low word
	ChannelRefHigh   = 1 // reference clock, high word (chained to 0)
	ChannelHandshake = 2 // mode-transition and TX completion waits
	ChannelSelect    = 3 // multiplexed select waits
)

// Counter is one down-counting channel of the periodic interrupt timer.
type Counter interface {
	// Load sets the reload value used by the next Start.
	Load(v uint32)
	Start()
	Stop()
	// Value returns the ticks remaining in the current period.
	Value() uint32
}

// Timer is the timer module shared by the reference clock and the waits.
type Timer interface {
	Enable()
	Disable()
	// Reset returns every channel to its reset state (stopped, CounterMax).
	Reset()
	// Chain makes channel ch decrement once per period of channel ch-1.
	Chain(ch int)
	Channel(ch int) Counter
}
