package sim

import "github.com/kstaniek/go-flexcan/internal/flexcan"

// Board is a set of simulated peripherals sharing one time base.
type Board struct {
	Clock  Clock
	Clocks *ClockTree
	Timer  *LPIT
	NVIC   *NVIC
	CAN    []*FlexCAN
}

// NewBoard returns a board with n FlexCAN instances (at most
// flexcan.MaxInstances) wired to their interrupt lines. A nil clk uses the
// host clock.
func NewBoard(n int, clk Clock) *Board {
	if clk == nil {
		clk = NewRealClock()
	}
	if n > flexcan.MaxInstances {
		n = flexcan.MaxInstances
	}
	b := &Board{
		Clock:  clk,
		Clocks: NewClockTree(),
		Timer:  NewLPIT(clk, DefaultRefHz),
		NVIC:   NewNVIC(),
	}
	for i := 0; i < n; i++ {
		f := NewFlexCAN(clk, DefaultRefHz)
		line := flexcan.IRQLines[i]
		f.SetIRQ(func() bool { return b.NVIC.Raise(line) })
		b.CAN = append(b.CAN, f)
	}
	return b
}

// Registers returns the register interfaces of every instance, in order.
func (b *Board) Registers() []flexcan.Registers {
	out := make([]flexcan.Registers, len(b.CAN))
	for i, f := range b.CAN {
		out[i] = f
	}
	return out
}

// Connect attaches every instance to bus.
func (b *Board) Connect(bus *Bus) {
	for _, f := range b.CAN {
		f.Connect(bus)
	}
}
