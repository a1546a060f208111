package flexcan

// NominalTiming is the arbitration phase bit timing, in register encoding
// (every field holds its value minus one).
type NominalTiming struct {
	PresDiv uint32 `yaml:"presdiv"`
	PropSeg uint32 `yaml:"propseg"`
	PSeg1   uint32 `yaml:"pseg1"`
	PSeg2   uint32 `yaml:"pseg2"`
	RJW     uint32 `yaml:"rjw"`
}

// DataTiming is the data phase bit timing. PropSeg is encoded as-is; the
// other fields hold their value minus one.
type DataTiming struct {
	PresDiv uint32 `yaml:"presdiv"`
	PropSeg uint32 `yaml:"propseg"`
	PSeg1   uint32 `yaml:"pseg1"`
	PSeg2   uint32 `yaml:"pseg2"`
	RJW     uint32 `yaml:"rjw"`
}

// Defaults for an 80 MHz protocol engine clock: 1 Mbit/s arbitration and
// 4 Mbit/s data phase.
var (
	DefaultNominalTiming = NominalTiming{PresDiv: 0, PropSeg: 46, PSeg1: 18, PSeg2: 12, RJW: 12}
	DefaultDataTiming    = DataTiming{PresDiv: 0, PropSeg: 7, PSeg1: 6, PSeg2: 4, RJW: 4}
)

// Quanta returns the time quanta per bit, sync segment included.
func (t NominalTiming) Quanta() uint32 { return 1 + t.PropSeg + 1 + t.PSeg1 + 1 + t.PSeg2 + 1 }

// Bitrate returns the arbitration bit rate for a protocol clock of hz.
func (t NominalTiming) Bitrate(hz uint32) uint32 { return hz / ((t.PresDiv + 1) * t.Quanta()) }

// Valid reports whether every field fits its register.
func (t NominalTiming) Valid() bool {
	return fits(CBT_EPRESDIV.Width, t.PresDiv) && fits(CBT_EPROPSEG.Width, t.PropSeg) &&
		fits(CBT_EPSEG1.Width, t.PSeg1) && fits(CBT_EPSEG2.Width, t.PSeg2) && fits(CBT_ERJW.Width, t.RJW)
}

// CBT returns the CBT register value with extended timing selected.
func (t NominalTiming) CBT() uint32 {
	return CBT_BTF.Val(1) | CBT_EPRESDIV.Val(t.PresDiv) | CBT_ERJW.Val(t.RJW) |
		CBT_EPROPSEG.Val(t.PropSeg) | CBT_EPSEG1.Val(t.PSeg1) | CBT_EPSEG2.Val(t.PSeg2)
}

// Quanta returns the time quanta per data bit, sync segment included.
func (t DataTiming) Quanta() uint32 { return 1 + t.PropSeg + t.PSeg1 + 1 + t.PSeg2 + 1 }

// Bitrate returns the data phase bit rate for a protocol clock of hz.
func (t DataTiming) Bitrate(hz uint32) uint32 { return hz / ((t.PresDiv + 1) * t.Quanta()) }

func (t DataTiming) Valid() bool {
	return fits(FDCBT_FPRESDIV.Width, t.PresDiv) && fits(FDCBT_FPROPSEG.Width, t.PropSeg) &&
		fits(FDCBT_FPSEG1.Width, t.PSeg1) && fits(FDCBT_FPSEG2.Width, t.PSeg2) && fits(FDCBT_FRJW.Width, t.RJW)
}

// FDCBT returns the FDCBT register value.
func (t DataTiming) FDCBT() uint32 {
	return FDCBT_FPRESDIV.Val(t.PresDiv) | FDCBT_FRJW.Val(t.RJW) | FDCBT_FPROPSEG.Val(t.PropSeg) |
		FDCBT_FPSEG1.Val(t.PSeg1) | FDCBT_FPSEG2.Val(t.PSeg2)
}

func fits(width uint8, v uint32) bool { return v < 1<<width }
