package flexcan

import (
	"fmt"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/reg"
	"github.com/kstaniek/go-flexcan/internal/timing"
)

// Config is the bring-up configuration of one instance.
type Config struct {
	Nominal   NominalTiming
	Data      DataTiming
	TDCOffset uint32 // transceiver delay compensation offset, in clock cycles
}

// DefaultConfig returns 1 Mbit/s arbitration, 4 Mbit/s data phase at 80 MHz.
func DefaultConfig() Config {
	return Config{Nominal: DefaultNominalTiming, Data: DefaultDataTiming, TDCOffset: 5}
}

// Programmer runs the mode-transition handshakes of the peripheral. Every
// wait is bounded by the waiter's timeout; an expired wait is reported as
// ErrFailure wrapping timing.ErrTimeout.
type Programmer struct {
	wait *timing.Waiter
}

// NewProgrammer returns a programmer polling on w.
func NewProgrammer(w *timing.Waiter) *Programmer { return &Programmer{wait: w} }

func (p *Programmer) await(r Registers, set bool, step string, f reg.Field) error {
	read := func() uint32 { return r.Read(MCR) }
	var err error
	if set {
		err = p.wait.UntilSet(read, f)
	} else {
		err = p.wait.UntilClear(read, f)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %w", step, ErrFailure, err)
	}
	return nil
}

// Freeze halts the protocol engine and waits for the freeze acknowledge.
func (p *Programmer) Freeze(r Registers) error {
	setBits(r, MCR, MCR_FRZ.Mask()|MCR_HALT.Mask())
	return p.await(r, true, "freeze entry", MCR_FRZACK)
}

// Unfreeze leaves freeze mode and waits until the module is ready to take
// part in bus traffic.
func (p *Programmer) Unfreeze(r Registers) error {
	clearBits(r, MCR, MCR_HALT.Mask()|MCR_FRZ.Mask())
	if err := p.await(r, false, "freeze exit", MCR_FRZACK); err != nil {
		return err
	}
	return p.await(r, false, "module ready", MCR_NOTRDY)
}

// Disable puts the module into low-power mode and waits for the acknowledge.
func (p *Programmer) Disable(r Registers) error {
	setBits(r, MCR, MCR_MDIS.Mask())
	return p.await(r, true, "low-power entry", MCR_LPMACK)
}

// Configure brings a module from reset to frozen with CAN-FD, bit timing,
// message buffer layout, filters and receive interrupts set up. The module is
// left frozen; Unfreeze joins the bus once the interrupt handler is in place.
func (p *Programmer) Configure(r Registers, cfg Config, filters []can.Filter) error {
	if len(filters) > FilterCount || !cfg.Nominal.Valid() || !cfg.Data.Valid() {
		return ErrBadArgument
	}
	// The clock source may only change while disabled.
	setBits(r, MCR, MCR_MDIS.Mask())
	setBits(r, CTRL1, CTRL1_CLKSRC.Mask())
	clearBits(r, MCR, MCR_MDIS.Mask())
	if err := p.Freeze(r); err != nil {
		return err
	}

	setBits(r, MCR, MCR_FDEN.Mask())
	setBits(r, CTRL2, CTRL2_ISOCANFDEN.Mask())
	r.Write(CBT, cfg.Nominal.CBT())
	r.Write(FDCBT, cfg.Data.FDCBT())
	r.Write(FDCTRL, FDCTRL_FDRATE.Val(1)|FDCTRL_TDCEN.Val(1)|
		FDCTRL_TDCOFF.Val(cfg.TDCOffset)|FDCTRL_MBDSR0.Val(mbdsr64))
	mcr := MCR_MAXMB.Set(r.Read(MCR), LastSlot)
	r.Write(MCR, mcr|MCR_SRXDIS.Mask()|MCR_IRMQ.Mask())

	if err := Program(r, filters); err != nil {
		return err
	}
	r.Write(IMASK1, RxSlotMask)
	return nil
}

// Program wipes message buffer RAM and the individual masks, then arms
// receive slot FirstRxSlot+j with filters[j]. Slots without a filter stay
// inactive. The module must be frozen.
func Program(r Registers, filters []can.Filter) error {
	if len(filters) > FilterCount {
		return ErrBadArgument
	}
	for i := 0; i < RAMWords; i++ {
		r.WriteRAM(i, 0)
	}
	for i := 0; i < RXIMRCount; i++ {
		r.WriteRXIMR(i, 0)
	}
	// Flags of wiped slots no longer describe a frame.
	r.Write(IFLAG1, RxSlotMask|TxSlotMask)
	for j, f := range filters {
		slot := FirstRxSlot + j
		r.WriteRXIMR(slot, f.Mask)
		r.WriteRAM(slotBase(slot), rxControl())
		r.WriteRAM(slotBase(slot)+1, ID_EXT.Val(f.ID))
	}
	return nil
}

// Reconfigure replaces the filters of a running module: freeze, program,
// resume. A failed step leaves the module where it stopped.
func (p *Programmer) Reconfigure(r Registers, filters []can.Filter) error {
	if len(filters) > FilterCount {
		return ErrBadArgument
	}
	if err := p.Freeze(r); err != nil {
		return err
	}
	if err := Program(r, filters); err != nil {
		return err
	}
	return p.Unfreeze(r)
}

// TxAvailable returns the lowest free transmit buffer.
func TxAvailable(r Registers) (slot int, ok bool) {
	esr2 := r.Read(ESR2)
	if !ESR2_IMB.IsSet(esr2) || !ESR2_VPS.IsSet(esr2) {
		return 0, false
	}
	slot = int(ESR2_LPTM.Get(esr2))
	if slot >= TxSlots {
		return 0, false
	}
	return slot, true
}
