package flexcan

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-flexcan/internal/can"
)

var validLengths = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

func patternFrame(t testing.TB, id uint32, n int) can.Frame {
	t.Helper()
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 1)
	}
	fr, err := can.NewFrame(id, p)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return fr
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, n := range validLengths {
		m := &memRegs{}
		in := patternFrame(t, 0x1ABCDEF0+uint32(n), n)
		EncodeTx(m, 1, in)
		out, _ := Decode(m, 1)
		if out.ID != in.ID&can.CAN_EFF_MASK || out.Len != in.Len {
			t.Fatalf("len %d: header mismatch got id=%#x len=%d", n, out.ID, out.Len)
		}
		if !bytes.Equal(out.Payload(), in.Payload()) {
			t.Fatalf("len %d: payload mismatch\n got % x\nwant % x", n, out.Payload(), in.Payload())
		}
	}
}

func TestControlWords(t *testing.T) {
	if got := txControl(can.DLC(15)); got != 0xCC2F0000 {
		t.Fatalf("tx control=%#x", got)
	}
	if got := txControl(can.DLC(0)); got != 0xCC200000 {
		t.Fatalf("tx control=%#x", got)
	}
	if got := rxControl(); got != 0xC4200000 {
		t.Fatalf("rx control=%#x", got)
	}
}

func TestEncodeWordOrderAndCommit(t *testing.T) {
	m := &memRegs{}
	fr, _ := can.NewFrame(0x123, []byte{1, 2, 3, 4, 5, 6})
	EncodeTx(m, 0, fr)
	if m.ram[MBDataOffset] != 0x01020304 {
		t.Fatalf("word0=%#08x", m.ram[MBDataOffset])
	}
	if m.ram[MBDataOffset+1] != 0x05060000 {
		t.Fatalf("partial word=%#08x", m.ram[MBDataOffset+1])
	}
	if m.ram[1] != 0x123 {
		t.Fatalf("id word=%#x", m.ram[1])
	}
	if m.lastWrite != 0 {
		t.Fatalf("control word must be written last, last write was word %d", m.lastWrite)
	}
}

func TestEncodeTouchesOnlyNeededWords(t *testing.T) {
	m := &memRegs{}
	for i := range m.ram {
		m.ram[i] = 0xFFFFFFFF
	}
	fr, _ := can.NewFrame(1, []byte{0xAA})
	EncodeTx(m, 0, fr)
	if m.ram[MBDataOffset+1] != 0xFFFFFFFF {
		t.Fatalf("wrote past the last payload word")
	}
}

func TestAbortTxFreesSlot(t *testing.T) {
	m := &memRegs{}
	fr, _ := can.NewFrame(0x55, []byte{1, 2})
	EncodeTx(m, 1, fr)
	AbortTx(m, 1)
	cs := m.ram[slotBase(1)]
	if CS_CODE.Get(cs) != CodeTxInactive {
		t.Fatalf("code=%#x", CS_CODE.Get(cs))
	}
	if CS_DLC.Get(cs) != 2 || CS_EDL.Get(cs) != 1 {
		t.Fatalf("abort must only change the code: cs=%#08x", cs)
	}
	if m.ram[slotBase(0)] != 0 {
		t.Fatalf("other slot touched")
	}
}

func TestDecodeCapture(t *testing.T) {
	m := &memRegs{}
	base := slotBase(3)
	m.ram[base] = CS_CODE.Val(CodeRxFull) | CS_DLC.Val(9) | CS_TIMESTAMP.Val(0xBEEF) | CS_IDE.Val(1)
	m.ram[base+1] = 0xE0000000 | 0x0C0FFE
	m.ram[base+2] = 0x11223344
	m.ram[base+3] = 0x55667788
	m.ram[base+4] = 0x99AABBCC
	m.ram[base+5] = 0xDDEEFF00
	fr, ts := Decode(m, 3)
	if ts != 0xBEEF {
		t.Fatalf("timestamp=%#x", ts)
	}
	if fr.ID != 0x0C0FFE {
		t.Fatalf("id=%#x must be masked to 29 bits", fr.ID)
	}
	want := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC}
	if !bytes.Equal(fr.Payload(), want) {
		t.Fatalf("payload % x", fr.Payload())
	}
	if m.ramReads != 2+3 {
		t.Fatalf("ram reads=%d want 5", m.ramReads)
	}
}

func TestDecodeClearsTail(t *testing.T) {
	m := &memRegs{}
	m.ram[0] = CS_DLC.Val(1)
	m.ram[MBDataOffset] = 0x01020304
	fr, _ := Decode(m, 0)
	if fr.Len != 1 || fr.Data[0] != 1 || fr.Data[1] != 0 || fr.Data[3] != 0 {
		t.Fatalf("frame=%+v", fr)
	}
}

func FuzzCodecRoundTrip(f *testing.F) {
	f.Add(uint32(0xC0FFE), []byte{1, 2, 3})
	f.Add(uint32(0x1FFFFFFF), bytes.Repeat([]byte{0xA5}, 64))
	f.Fuzz(func(t *testing.T, id uint32, payload []byte) {
		if len(payload) > can.MaxDataLen {
			payload = payload[:can.MaxDataLen]
		}
		in, err := can.NewFrame(id, payload)
		if err != nil {
			t.Fatalf("NewFrame: %v", err)
		}
		m := &memRegs{}
		EncodeTx(m, 0, in)
		out, _ := Decode(m, 0)
		if out.ID != in.ID || out.Len != in.Len || out.Data != in.Data {
			t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
		}
	})
}

func BenchmarkEncodeTx64(b *testing.B) {
	m := &memRegs{}
	fr := patternFrame(b, 0xC0FFE, 64)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EncodeTx(m, 0, fr)
	}
}

func BenchmarkDecode64(b *testing.B) {
	m := &memRegs{}
	EncodeTx(m, 2, patternFrame(b, 0xC0FFE, 64))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Decode(m, 2)
	}
}
