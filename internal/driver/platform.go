package driver

import (
	"fmt"

	"github.com/kstaniek/go-flexcan/internal/flexcan"
	"github.com/kstaniek/go-flexcan/internal/timing"
)

// ClockTree brings up the system clocks and gates peripheral clocks.
type ClockTree interface {
	// Init starts the clock tree and returns the peripheral clock rate
	// feeding the timer and the CAN protocol engines.
	Init() (hz uint32, err error)
	GateTimer(on bool)
	GateFlexCAN(instance int, on bool)
}

// InterruptController installs, enables and masks interrupt handlers.
// Disable returns only once a handler running on line has finished.
type InterruptController interface {
	Register(line int, handler func())
	Enable(line int)
	Disable(line int)
}

// Platform is the hardware the driver runs on.
type Platform struct {
	Clocks ClockTree
	Timer  timing.Timer
	IRQ    InterruptController
	// CAN holds the register interface of each instance, in instance order.
	CAN []flexcan.Registers
	// IRQLines overrides the interrupt line of each instance; nil selects
	// flexcan.IRQLines.
	IRQLines []int
}

func (p Platform) validate() error {
	if p.Clocks == nil || p.Timer == nil || p.IRQ == nil {
		return fmt.Errorf("%w: incomplete platform", ErrBadArgument)
	}
	if len(p.CAN) == 0 || len(p.CAN) > flexcan.MaxInstances {
		return fmt.Errorf("%w: %d instances", ErrBadArgument, len(p.CAN))
	}
	if p.IRQLines != nil && len(p.IRQLines) != len(p.CAN) {
		return fmt.Errorf("%w: %d irq lines for %d instances", ErrBadArgument, len(p.IRQLines), len(p.CAN))
	}
	for i, r := range p.CAN {
		if r == nil {
			return fmt.Errorf("%w: instance %d has no registers", ErrBadArgument, i)
		}
	}
	return nil
}

func (p Platform) irqLine(i int) int {
	if p.IRQLines != nil {
		return p.IRQLines[i]
	}
	return flexcan.IRQLines[i]
}
