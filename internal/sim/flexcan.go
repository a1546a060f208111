package sim

import (
	"encoding/binary"
	"sync"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/flexcan"
)

// Faults selects misbehaviour of a simulated controller.
type Faults struct {
	FreezeAckStuck  bool // FRZACK never asserts
	FreezeExitStuck bool // FRZACK never deasserts once set
	NotReadyStuck   bool // NOTRDY never deasserts
	LowPowerStuck   bool // LPMACK never asserts
	TxBusy          bool // no transmit buffer is ever reported free
	TxNoComplete    bool // committed frames are never sent
}

// maxIRQRetrigger bounds how often a still-pending line is re-raised after
// its handler returns.
const maxIRQRetrigger = 64

// FlexCAN models one controller: registers, message buffer RAM and individual
// masks, the mode handshakes, transmission onto a Bus and acceptance of bus
// frames into receive buffers.
type FlexCAN struct {
	mu     sync.Mutex
	clk    Clock
	tsHz   uint64
	regs   [flexcan.NumRegs]uint32
	ram    [flexcan.RAMWords]uint32
	rximr  [flexcan.RXIMRCount]uint32
	faults Faults

	irq  func() bool
	bus  *Bus
	port *Port
	sent []can.Frame
}

// NewFlexCAN returns a controller in its reset state (disabled, frozen)
// whose TIMER counts at tsHz on clk.
func NewFlexCAN(clk Clock, tsHz uint32) *FlexCAN {
	f := &FlexCAN{clk: clk, tsHz: uint64(tsHz)}
	f.regs[flexcan.MCR] = flexcan.MCR_MDIS.Mask() | flexcan.MCR_FRZ.Mask() | flexcan.MCR_HALT.Mask() |
		flexcan.MCR_NOTRDY.Mask() | flexcan.MCR_LPMACK.Mask()
	return f
}

// SetIRQ installs the function raising this controller's interrupt line.
func (f *FlexCAN) SetIRQ(raise func() bool) { f.mu.Lock(); f.irq = raise; f.mu.Unlock() }

// SetFaults replaces the injected faults.
func (f *FlexCAN) SetFaults(fl Faults) { f.mu.Lock(); f.faults = fl; f.mu.Unlock() }

// Connect attaches the controller to bus.
func (f *FlexCAN) Connect(b *Bus) {
	p := b.Attach(func(fr can.Frame) { f.Receive(fr) })
	f.mu.Lock()
	f.bus, f.port = b, p
	f.mu.Unlock()
}

// Sent returns the frames transmitted so far.
func (f *FlexCAN) Sent() []can.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]can.Frame(nil), f.sent...)
}

func (f *FlexCAN) operatingLocked() bool {
	mcr := f.regs[flexcan.MCR]
	return !flexcan.MCR_MDIS.IsSet(mcr) && !flexcan.MCR_FRZACK.IsSet(mcr) && !flexcan.MCR_NOTRDY.IsSet(mcr)
}

// Operating reports whether the controller takes part in bus traffic.
func (f *FlexCAN) Operating() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.operatingLocked() }

func (f *FlexCAN) timerLocked() uint32 {
	return uint32(uint16(ticksAt(f.clk.Now(), f.tsHz)))
}

func (f *FlexCAN) Read(r flexcan.Reg) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r {
	case flexcan.TIMER:
		return f.timerLocked()
	case flexcan.ESR2:
		return f.esr2Locked()
	}
	return f.regs[r]
}

func (f *FlexCAN) esr2Locked() uint32 {
	if f.faults.TxBusy {
		return 0
	}
	for slot := 0; slot < flexcan.TxSlots; slot++ {
		if flexcan.CS_CODE.Get(f.ram[slot*flexcan.MBSizeWords]) != flexcan.CodeTxData {
			return flexcan.ESR2_IMB.Mask() | flexcan.ESR2_VPS.Mask() | flexcan.ESR2_LPTM.Val(uint32(slot))
		}
	}
	return 0
}

func (f *FlexCAN) Write(r flexcan.Reg, v uint32) {
	f.mu.Lock()
	var out []can.Frame
	switch r {
	case flexcan.MCR:
		f.writeMCRLocked(v)
		if f.operatingLocked() {
			out = f.flushTxLocked()
		}
	case flexcan.IFLAG1:
		f.ackLocked(v)
	case flexcan.TIMER, flexcan.ESR2:
		// read-only
	default:
		f.regs[r] = v
	}
	f.mu.Unlock()
	f.transmit(out)
}

func (f *FlexCAN) writeMCRLocked(v uint32) {
	prev := f.regs[flexcan.MCR]
	acks := flexcan.MCR_FRZACK.Mask() | flexcan.MCR_NOTRDY.Mask() | flexcan.MCR_LPMACK.Mask()
	v &^= acks
	switch {
	case flexcan.MCR_MDIS.IsSet(v):
		v |= flexcan.MCR_NOTRDY.Mask()
		if !f.faults.LowPowerStuck {
			v |= flexcan.MCR_LPMACK.Mask()
		}
		// Freeze state is retained across low-power mode.
		v |= prev & flexcan.MCR_FRZACK.Mask()
	case flexcan.MCR_FRZ.IsSet(v) && flexcan.MCR_HALT.IsSet(v):
		v |= flexcan.MCR_NOTRDY.Mask()
		if !f.faults.FreezeAckStuck {
			v |= flexcan.MCR_FRZACK.Mask()
		}
	default:
		if f.faults.FreezeExitStuck && flexcan.MCR_FRZACK.IsSet(prev) {
			v |= flexcan.MCR_FRZACK.Mask() | flexcan.MCR_NOTRDY.Mask()
		} else if f.faults.NotReadyStuck {
			v |= flexcan.MCR_NOTRDY.Mask()
		}
	}
	f.regs[flexcan.MCR] = v
}

// ackLocked clears the flags set in v. A receive buffer whose flag is
// cleared is free for the next frame.
func (f *FlexCAN) ackLocked(v uint32) {
	cleared := f.regs[flexcan.IFLAG1] & v
	f.regs[flexcan.IFLAG1] &^= v
	for slot := flexcan.FirstRxSlot; slot <= flexcan.LastSlot; slot++ {
		if cleared&flexcan.SlotFlag(slot).Mask() == 0 {
			continue
		}
		base := slot * flexcan.MBSizeWords
		switch flexcan.CS_CODE.Get(f.ram[base]) {
		case flexcan.CodeRxFull, flexcan.CodeRxOverrun:
			f.ram[base] = flexcan.CS_CODE.Set(f.ram[base], flexcan.CodeRxEmpty)
		}
	}
}

func (f *FlexCAN) ReadRAM(word int) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ram[word]
}

func (f *FlexCAN) WriteRAM(word int, v uint32) {
	f.mu.Lock()
	f.ram[word] = v
	var out []can.Frame
	if word%flexcan.MBSizeWords == 0 && word/flexcan.MBSizeWords < flexcan.TxSlots &&
		flexcan.CS_CODE.Get(v) == flexcan.CodeTxData && f.operatingLocked() {
		out = f.flushTxLocked()
	}
	f.mu.Unlock()
	f.transmit(out)
}

func (f *FlexCAN) WriteRXIMR(i int, v uint32) {
	f.mu.Lock()
	f.rximr[i] = v
	f.mu.Unlock()
}

// flushTxLocked sends every committed transmit buffer, lowest first.
func (f *FlexCAN) flushTxLocked() []can.Frame {
	if f.faults.TxNoComplete {
		return nil
	}
	var out []can.Frame
	for slot := 0; slot < flexcan.TxSlots; slot++ {
		base := slot * flexcan.MBSizeWords
		cs := f.ram[base]
		if flexcan.CS_CODE.Get(cs) != flexcan.CodeTxData {
			continue
		}
		var fr can.Frame
		fr.ID = flexcan.ID_EXT.Get(f.ram[base+1])
		fr.Len = uint8(can.DLC(flexcan.CS_DLC.Get(cs)).Len())
		for i := 0; i < (int(fr.Len)+3)/4; i++ {
			binary.BigEndian.PutUint32(fr.Data[4*i:], f.ram[base+flexcan.MBDataOffset+i])
		}
		f.ram[base] = flexcan.CS_CODE.Set(cs, flexcan.CodeTxInactive)
		f.regs[flexcan.IFLAG1] |= flexcan.SlotFlag(slot).Mask()
		f.sent = append(f.sent, fr)
		out = append(out, fr)
	}
	return out
}

func (f *FlexCAN) transmit(out []can.Frame) {
	if len(out) == 0 {
		return
	}
	f.mu.Lock()
	b, p := f.bus, f.port
	f.mu.Unlock()
	if b == nil {
		return
	}
	for _, fr := range out {
		b.Broadcast(p, fr)
	}
}

// Receive offers a bus frame to the controller. The frame lands in the
// lowest active receive buffer whose filter accepts it; an already full
// buffer is overwritten and marked overrun. It reports whether a buffer
// accepted the frame.
func (f *FlexCAN) Receive(fr can.Frame) bool {
	f.mu.Lock()
	if !f.operatingLocked() {
		f.mu.Unlock()
		return false
	}
	last := int(flexcan.MCR_MAXMB.Get(f.regs[flexcan.MCR]))
	if last > flexcan.LastSlot {
		last = flexcan.LastSlot
	}
	accepted := false
	for slot := flexcan.FirstRxSlot; slot <= last; slot++ {
		base := slot * flexcan.MBSizeWords
		cs := f.ram[base]
		code := flexcan.CS_CODE.Get(cs)
		if code != flexcan.CodeRxEmpty && code != flexcan.CodeRxFull && code != flexcan.CodeRxOverrun {
			continue
		}
		mask := f.rximr[slot]
		if fr.ID&mask != flexcan.ID_EXT.Get(f.ram[base+1])&mask {
			continue
		}
		next := uint32(flexcan.CodeRxFull)
		if code != flexcan.CodeRxEmpty {
			next = flexcan.CodeRxOverrun
		}
		var data [can.MaxDataLen]byte
		copy(data[:], fr.Data[:fr.Len])
		for i := 0; i < (int(fr.Len)+3)/4; i++ {
			f.ram[base+flexcan.MBDataOffset+i] = binary.BigEndian.Uint32(data[4*i:])
		}
		f.ram[base+1] = flexcan.ID_EXT.Val(fr.ID)
		f.ram[base] = flexcan.CS_EDL.Val(1) | flexcan.CS_BRS.Val(1) | flexcan.CS_IDE.Val(1) |
			flexcan.CS_CODE.Val(next) | flexcan.CS_DLC.Val(uint32(fr.DLC())) |
			flexcan.CS_TIMESTAMP.Val(f.timerLocked())
		f.regs[flexcan.IFLAG1] |= flexcan.SlotFlag(slot).Mask()
		accepted = true
		break
	}
	f.mu.Unlock()
	if accepted {
		f.interrupt()
	}
	return accepted
}

func (f *FlexCAN) pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[flexcan.IFLAG1]&f.regs[flexcan.IMASK1] != 0
}

// interrupt raises the line while an unmasked flag is pending.
func (f *FlexCAN) interrupt() {
	f.mu.Lock()
	raise := f.irq
	f.mu.Unlock()
	if raise == nil {
		return
	}
	for i := 0; i < maxIRQRetrigger && f.pending(); i++ {
		if !raise() {
			return
		}
	}
}
