package flexcan

import "github.com/kstaniek/go-flexcan/internal/timing"

// memRegs is a plain register file. With ack set, MCR mode requests are
// acknowledged immediately.
type memRegs struct {
	regs  [NumRegs]uint32
	ram   [RAMWords]uint32
	rximr [RXIMRCount]uint32
	ack   bool

	ramReads  int
	lastWrite int
}

func (m *memRegs) Read(r Reg) uint32 { return m.regs[r] }

func (m *memRegs) Write(r Reg, v uint32) {
	switch r {
	case IFLAG1:
		m.regs[r] &^= v
	case MCR:
		if m.ack {
			v &^= MCR_FRZACK.Mask() | MCR_LPMACK.Mask() | MCR_NOTRDY.Mask()
			if MCR_MDIS.IsSet(v) {
				v |= MCR_LPMACK.Mask()
			} else if MCR_FRZ.IsSet(v) && MCR_HALT.IsSet(v) {
				v |= MCR_FRZACK.Mask() | MCR_NOTRDY.Mask()
			}
		}
		m.regs[r] = v
	default:
		m.regs[r] = v
	}
}

func (m *memRegs) ReadRAM(word int) uint32 { m.ramReads++; return m.ram[word] }

func (m *memRegs) WriteRAM(word int, v uint32) { m.ram[word] = v; m.lastWrite = word }

func (m *memRegs) WriteRXIMR(i int, v uint32) { m.rximr[i] = v }

// stepCounter loses step ticks on every read while running.
type stepCounter struct {
	v, step uint32
	running bool
}

func (c *stepCounter) Load(v uint32) { c.v = v }
func (c *stepCounter) Start()        { c.running = true }
func (c *stepCounter) Stop()         { c.running = false }
func (c *stepCounter) Value() uint32 {
	if c.running {
		c.v -= c.step
	}
	return c.v
}

func newTestWaiter() *timing.Waiter {
	return timing.NewWaiter(&stepCounter{step: 1_000_000}, 80_000_000)
}

func newTestClock() *timing.Clock {
	lo := &stepCounter{step: 80}
	hi := &stepCounter{}
	lo.Load(timing.CounterMax)
	hi.Load(timing.CounterMax)
	lo.Start()
	return timing.NewClock(lo, hi, 80_000_000, 0)
}
