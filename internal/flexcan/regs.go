// Package flexcan drives the FlexCAN CAN-FD peripheral: message buffer layout,
// the receive interrupt path, and the freeze/program/resume sequence used to
// install acceptance filters.
package flexcan

import "github.com/kstaniek/go-flexcan/internal/reg"

// Reg names a memory-mapped control or status register of one instance.
type Reg uint8

const (
	MCR    Reg = iota // module configuration
	CTRL1             // control 1
	TIMER             // free-running 16-bit timestamp counter
	CTRL2             // control 2
	ESR2              // error and status 2
	IMASK1            // interrupt mask, buffers 0..31
	IFLAG1            // interrupt flags, buffers 0..31 (write one to clear)
	CBT               // CAN bit timing
	FDCTRL            // CAN-FD control
	FDCBT             // CAN-FD bit timing
	NumRegs
)

// Registers is the register and message-buffer RAM interface of one instance.
type Registers interface {
	Read(r Reg) uint32
	Write(r Reg, v uint32)
	ReadRAM(word int) uint32
	WriteRAM(word int, v uint32)
	WriteRXIMR(i int, v uint32)
}

// Layout of the dedicated RAM with 64-byte message buffers.
const (
	RAMWords     = 128
	RXIMRCount   = 32
	MBSizeWords  = 18 // 2 header words + 16 payload words
	MBDataOffset = 2

	TxSlots      = 2
	FilterCount  = 5
	FirstRxSlot  = TxSlots
	LastSlot     = FirstRxSlot + FilterCount - 1
	MaxInstances = 3
)

// IRQLines are the interrupt controller lines of the ORed buffer 0-15
// interrupt of each instance.
var IRQLines = [MaxInstances]int{81, 88, 95}

// RxSlotMask has the IFLAG1/IMASK1 bit of every receive slot set.
const RxSlotMask uint32 = (1<<FilterCount - 1) << FirstRxSlot

// TxSlotMask has the IFLAG1 bit of every transmit slot set.
const TxSlotMask uint32 = 1<<TxSlots - 1

// SlotFlag is the IFLAG1 bit of a message buffer.
func SlotFlag(slot int) reg.Field { return reg.Bit(uint8(slot)) }

func slotBase(slot int) int { return slot * MBSizeWords }

func setBits(r Registers, rg Reg, mask uint32)   { r.Write(rg, r.Read(rg)|mask) }
func clearBits(r Registers, rg Reg, mask uint32) { r.Write(rg, r.Read(rg)&^mask) }
