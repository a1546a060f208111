package flexcan

import (
	"encoding/binary"

	"github.com/kstaniek/go-flexcan/internal/can"
)

// Payload bytes are held big-endian in each RAM word while frames carry them
// in wire (little-endian word) order, so every word is byte swapped on the
// way in and out. binary.BigEndian over the byte array performs exactly that
// swap for a little-endian core.

// payloadWords is the number of RAM words holding n payload bytes; a partial
// trailing word still needs one transfer.
func payloadWords(n int) int { return (n + 3) / 4 }

// txControl is the control word committing a CAN-FD, bit-rate switched,
// extended data frame for transmission.
func txControl(dlc can.DLC) uint32 {
	return CS_EDL.Val(1) | CS_BRS.Val(1) | CS_CODE.Val(CodeTxData) | CS_IDE.Val(1) | CS_DLC.Val(uint32(dlc))
}

// rxControl arms a receive buffer: active, empty, extended identifier.
func rxControl() uint32 {
	return CS_EDL.Val(1) | CS_BRS.Val(1) | CS_CODE.Val(CodeRxEmpty) | CS_IDE.Val(1)
}

// EncodeTx writes fr into transmit buffer slot. The control word is written
// last; that write hands the buffer to the hardware.
func EncodeTx(r Registers, slot int, fr can.Frame) {
	base := slotBase(slot)
	for i := 0; i < payloadWords(int(fr.Len)); i++ {
		r.WriteRAM(base+MBDataOffset+i, binary.BigEndian.Uint32(fr.Data[4*i:]))
	}
	r.WriteRAM(base+1, ID_EXT.Val(fr.ID))
	r.WriteRAM(base, txControl(fr.DLC()))
}

// AbortTx withdraws a committed transmit buffer that never completed,
// returning slot to the free pool.
func AbortTx(r Registers, slot int) {
	base := slotBase(slot)
	r.WriteRAM(base, CS_CODE.Set(r.ReadRAM(base), CodeTxInactive))
}

// Decode reads the frame held in receive buffer slot and returns it with the
// 16-bit capture timestamp. Reading the control word locks the buffer against
// hardware updates until the free-running TIMER is read, so the order is
// fixed: control word, ID word, payload. Callers read TIMER afterwards.
func Decode(r Registers, slot int) (fr can.Frame, captured uint16) {
	base := slotBase(slot)
	cs := r.ReadRAM(base)
	fr.Len = uint8(can.DLC(CS_DLC.Get(cs)).Len())
	fr.ID = ID_EXT.Get(r.ReadRAM(base + 1))
	for i := 0; i < payloadWords(int(fr.Len)); i++ {
		binary.BigEndian.PutUint32(fr.Data[4*i:], r.ReadRAM(base+MBDataOffset+i))
	}
	clear(fr.Data[fr.Len:])
	return fr, uint16(CS_TIMESTAMP.Get(cs))
}
