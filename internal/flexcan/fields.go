package flexcan

import "github.com/kstaniek/go-flexcan/internal/reg"

// MCR fields.
var (
	MCR_MDIS    = reg.Bit(31)
	MCR_FRZ     = reg.Bit(30)
	MCR_HALT    = reg.Bit(28)
	MCR_NOTRDY  = reg.Bit(27)
	MCR_SOFTRST = reg.Bit(25)
	MCR_FRZACK  = reg.Bit(24)
	MCR_LPMACK  = reg.Bit(20)
	MCR_SRXDIS  = reg.Bit(17)
	MCR_IRMQ    = reg.Bit(16)
	MCR_FDEN    = reg.Bit(11)
	MCR_MAXMB   = reg.Bits(6, 0)
)

// CTRL1 / CTRL2 fields.
var (
	CTRL1_CLKSRC     = reg.Bit(13)
	CTRL2_ISOCANFDEN = reg.Bit(12)
)

// ESR2 fields.
var (
	ESR2_IMB  = reg.Bit(13)      // an inactive message buffer exists
	ESR2_VPS  = reg.Bit(14)      // IMB and LPTM are valid
	ESR2_LPTM = reg.Bits(22, 16) // lowest-priority (lowest numbered) free TX buffer
)

// CBT fields (extended nominal bit timing).
var (
	CBT_BTF      = reg.Bit(31)
	CBT_EPRESDIV = reg.Bits(30, 21)
	CBT_ERJW     = reg.Bits(20, 16)
	CBT_EPROPSEG = reg.Bits(15, 10)
	CBT_EPSEG1   = reg.Bits(9, 5)
	CBT_EPSEG2   = reg.Bits(4, 0)
)

// FDCBT fields (data phase bit timing).
var (
	FDCBT_FPRESDIV = reg.Bits(29, 20)
	FDCBT_FRJW     = reg.Bits(18, 16)
	FDCBT_FPROPSEG = reg.Bits(14, 10)
	FDCBT_FPSEG1   = reg.Bits(7, 5)
	FDCBT_FPSEG2   = reg.Bits(2, 0)
)

// FDCTRL fields.
var (
	FDCTRL_FDRATE = reg.Bit(31)
	FDCTRL_MBDSR0 = reg.Bits(17, 16)
	FDCTRL_TDCEN  = reg.Bit(15)
	FDCTRL_TDCOFF = reg.Bits(12, 8)
)

// Message buffer control/status word.
var (
	CS_EDL       = reg.Bit(31)
	CS_BRS       = reg.Bit(30)
	CS_ESI       = reg.Bit(29)
	CS_CODE      = reg.Bits(27, 24)
	CS_SRR       = reg.Bit(22)
	CS_IDE       = reg.Bit(21)
	CS_RTR       = reg.Bit(20)
	CS_DLC       = reg.Bits(19, 16)
	CS_TIMESTAMP = reg.Bits(15, 0)
)

// ID_EXT is the 29-bit extended identifier in the message buffer ID word.
var ID_EXT = reg.Bits(28, 0)

// Message buffer codes.
const (
	CodeRxInactive = 0x0
	CodeRxFull     = 0x2
	CodeRxEmpty    = 0x4
	CodeRxOverrun  = 0x6
	CodeTxInactive = 0x8
	CodeTxData     = 0xC
)

// mbdsr64 selects 64-byte payloads for every message buffer.
const mbdsr64 = 3
