package flexcan

import (
	"testing"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/rxqueue"
)

// fill places fr in receive slot as the hardware would and raises its flag.
func fill(m *memRegs, slot int, fr can.Frame, ts uint16) {
	base := slotBase(slot)
	EncodeTx(m, slot, fr)
	m.ram[base] = CS_CODE.Val(CodeRxFull) | CS_IDE.Val(1) | CS_DLC.Val(uint32(fr.DLC())) | CS_TIMESTAMP.Val(uint32(ts))
	m.regs[IFLAG1] |= SlotFlag(slot).Mask()
}

func TestPipelineQueuesFrame(t *testing.T) {
	m := &memRegs{}
	prod, cons := rxqueue.New(4)
	p := NewPipeline(0, m, newTestClock(), prod)
	fr := patternFrame(t, 0xC0FFE, 64)
	fill(m, FirstRxSlot, fr, 100)
	m.regs[TIMER] = 100
	m.regs[IFLAG1] |= SlotFlag(0).Mask() // unrelated tx completion

	p.Handle()

	got, ok := cons.Pop()
	if !ok {
		t.Fatalf("no frame queued")
	}
	if got.ID != fr.ID || got.Data != fr.Data || got.Len != 64 {
		t.Fatalf("got %+v", got)
	}
	if got.Timestamp <= 0 {
		t.Fatalf("timestamp not resolved: %v", got.Timestamp)
	}
	if m.regs[IFLAG1] != SlotFlag(0).Mask() {
		t.Fatalf("only the handled flag may be cleared, iflag=%#x", m.regs[IFLAG1])
	}
}

func TestPipelineIgnoresUnknownFlags(t *testing.T) {
	for _, flags := range []uint32{0, SlotFlag(0).Mask(), SlotFlag(1).Mask(), 1 << 20} {
		m := &memRegs{}
		prod, cons := rxqueue.New(4)
		p := NewPipeline(0, m, newTestClock(), prod)
		m.regs[IFLAG1] = flags
		p.Handle()
		if cons.Len() != 0 || cons.Discarded() != 0 {
			t.Fatalf("flags %#x: queue touched", flags)
		}
		if m.regs[IFLAG1] != flags {
			t.Fatalf("flags %#x: changed to %#x", flags, m.regs[IFLAG1])
		}
		if m.ramReads != 0 {
			t.Fatalf("flags %#x: message buffer read", flags)
		}
	}
}

func TestPipelineDiscardsWhenFull(t *testing.T) {
	m := &memRegs{}
	prod, cons := rxqueue.New(1)
	prod.Push(can.Frame{ID: 1})
	p := NewPipeline(0, m, newTestClock(), prod)
	fill(m, 4, patternFrame(t, 0x42, 8), 0)

	p.Handle()

	if cons.Discarded() != 1 {
		t.Fatalf("discarded=%d", cons.Discarded())
	}
	if m.ramReads != 0 {
		t.Fatalf("discarded frame must not be decoded")
	}
	if m.regs[IFLAG1] != 0 {
		t.Fatalf("flag of discarded frame not acknowledged")
	}
	if fr, _ := cons.Pop(); fr.ID != 1 {
		t.Fatalf("queued frame replaced: %+v", fr)
	}
}

func TestPipelineLowestSlotFirst(t *testing.T) {
	m := &memRegs{}
	prod, cons := rxqueue.New(4)
	p := NewPipeline(1, m, newTestClock(), prod)
	fill(m, 5, patternFrame(t, 5, 4), 0)
	fill(m, 3, patternFrame(t, 3, 4), 0)

	p.Handle()
	if m.regs[IFLAG1] != SlotFlag(5).Mask() {
		t.Fatalf("iflag=%#x", m.regs[IFLAG1])
	}
	p.Handle()
	for _, want := range []uint32{3, 5} {
		fr, ok := cons.Pop()
		if !ok || fr.ID != want {
			t.Fatalf("want id %d got %+v ok=%v", want, fr, ok)
		}
	}
}

func TestPipelineFIFOAcrossInterrupts(t *testing.T) {
	m := &memRegs{}
	prod, cons := rxqueue.New(rxqueue.DefaultCapacity)
	p := NewPipeline(0, m, newTestClock(), prod)
	for i := 0; i < 10; i++ {
		fill(m, FirstRxSlot+i%FilterCount, patternFrame(t, uint32(i), 8), uint16(i))
		p.Handle()
	}
	for i := 0; i < 10; i++ {
		fr, ok := cons.Pop()
		if !ok || fr.ID != uint32(i) {
			t.Fatalf("pos %d: %+v ok=%v", i, fr, ok)
		}
	}
}
