package sim

import (
	"testing"
	"time"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/flexcan"
	"github.com/kstaniek/go-flexcan/internal/timing"
)

func TestLPITCountsDownWhenEnabled(t *testing.T) {
	clk := NewStepClock(time.Microsecond)
	lp := NewLPIT(clk, 80_000_000)
	ch := lp.Channel(0)
	ch.Load(timing.CounterMax)
	ch.Start()
	if v := ch.Value(); v != timing.CounterMax {
		t.Fatalf("disabled timer must not count, got %#x", v)
	}
	lp.Enable()
	ch.Start() // t=3us
	if v := ch.Value(); v != timing.CounterMax-80 {
		t.Fatalf("value=%#x want %#x", v, uint32(timing.CounterMax-80))
	}
	ch.Stop()
	held := ch.Value()
	if again := ch.Value(); again != held {
		t.Fatalf("stopped channel moved: %#x -> %#x", held, again)
	}
}

func TestLPITReloadWraps(t *testing.T) {
	clk := NewStepClock(0)
	lp := NewLPIT(clk, 1_000_000)
	lp.Enable()
	ch := lp.Channel(2)
	ch.Load(9) // period of 10 ticks
	ch.Start()
	clk.Advance(25 * time.Microsecond)
	if v := ch.Value(); v != 9-5 {
		t.Fatalf("value=%d want 4", v)
	}
}

func TestLPITChainedChannelCountsPeriods(t *testing.T) {
	clk := NewStepClock(0)
	lp := NewLPIT(clk, 1_000_000)
	lp.Enable()
	lo, hi := lp.Channel(0), lp.Channel(1)
	lo.Load(99)
	hi.Load(timing.CounterMax)
	lp.Chain(1)
	lo.Start()
	hi.Start()
	clk.Advance(350 * time.Microsecond)
	if v := hi.Value(); v != timing.CounterMax-3 {
		t.Fatalf("hi=%#x want 3 periods elapsed", v)
	}
	lp.Reset()
	if lo.Value() != timing.CounterMax || hi.Value() != timing.CounterMax {
		t.Fatalf("reset must stop channels at CounterMax")
	}
}

func TestClockOverLPIT(t *testing.T) {
	clk := NewStepClock(0)
	lp := NewLPIT(clk, 80_000_000)
	lp.Enable()
	lo, hi := lp.Channel(timing.ChannelRefLow), lp.Channel(timing.ChannelRefHigh)
	lo.Load(timing.CounterMax)
	hi.Load(timing.CounterMax)
	lp.Chain(timing.ChannelRefHigh)
	lo.Start()
	hi.Start()
	// 2^32 ticks at 80 MHz is ~53.7 s; run past one low-word wrap.
	clk.Advance(60 * time.Second)
	c := timing.NewClock(lo, hi, 80_000_000, 0)
	if got := c.Now(); got != 60*time.Second {
		t.Fatalf("now=%v want 60s", got)
	}
}

func TestNVICRunsOnlyEnabledHandlers(t *testing.T) {
	n := NewNVIC()
	calls := 0
	n.Register(81, func() { calls++ })
	if n.Raise(81) {
		t.Fatalf("disabled line ran its handler")
	}
	n.Enable(81)
	if !n.Raise(81) || calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
	n.Disable(81)
	if n.Raise(81) || calls != 1 {
		t.Fatalf("handler ran after disable")
	}
	if n.Raise(88) {
		t.Fatalf("line without handler reported handled")
	}
}

func TestClockTreeGates(t *testing.T) {
	c := NewClockTree()
	hz, err := c.Init()
	if err != nil || hz != DefaultRefHz || !c.Initialized() {
		t.Fatalf("init hz=%d err=%v", hz, err)
	}
	c.GateTimer(true)
	c.GateFlexCAN(1, true)
	if !c.TimerGated() || !c.FlexCANGated(1) || c.FlexCANGated(0) {
		t.Fatalf("unexpected gate state")
	}
}

func TestFlexCANFreezeHandshake(t *testing.T) {
	f := NewFlexCAN(NewStepClock(time.Microsecond), DefaultRefHz)
	if !flexcan.MCR_LPMACK.IsSet(f.Read(flexcan.MCR)) {
		t.Fatalf("reset state must be low-power")
	}
	f.Write(flexcan.MCR, flexcan.MCR_FRZ.Mask()|flexcan.MCR_HALT.Mask())
	mcr := f.Read(flexcan.MCR)
	if !flexcan.MCR_FRZACK.IsSet(mcr) || flexcan.MCR_LPMACK.IsSet(mcr) {
		t.Fatalf("mcr=%#x", mcr)
	}
	f.Write(flexcan.MCR, 0)
	if !f.Operating() {
		t.Fatalf("expected operating after thaw, mcr=%#x", f.Read(flexcan.MCR))
	}
}

func TestFlexCANFaultsHoldAcks(t *testing.T) {
	f := NewFlexCAN(NewStepClock(time.Microsecond), DefaultRefHz)
	f.SetFaults(Faults{FreezeAckStuck: true})
	f.Write(flexcan.MCR, flexcan.MCR_FRZ.Mask()|flexcan.MCR_HALT.Mask())
	if flexcan.MCR_FRZACK.IsSet(f.Read(flexcan.MCR)) {
		t.Fatalf("FRZACK asserted despite fault")
	}
	f.SetFaults(Faults{NotReadyStuck: true})
	f.Write(flexcan.MCR, 0)
	if !flexcan.MCR_NOTRDY.IsSet(f.Read(flexcan.MCR)) {
		t.Fatalf("NOTRDY cleared despite fault")
	}
}

// armed returns an operating controller with slot 2 accepting id under mask.
func armed(t *testing.T, id, mask uint32) *FlexCAN {
	t.Helper()
	f := NewFlexCAN(NewStepClock(time.Microsecond), DefaultRefHz)
	f.Write(flexcan.MCR, flexcan.MCR_FRZ.Mask()|flexcan.MCR_HALT.Mask()|flexcan.MCR_MAXMB.Val(flexcan.LastSlot))
	f.WriteRXIMR(2, mask)
	f.WriteRAM(2*flexcan.MBSizeWords, flexcan.CS_CODE.Val(flexcan.CodeRxEmpty))
	f.WriteRAM(2*flexcan.MBSizeWords+1, id)
	f.Write(flexcan.MCR, flexcan.MCR_MAXMB.Val(flexcan.LastSlot))
	return f
}

func TestFlexCANReceiveFiltersAndFlags(t *testing.T) {
	f := armed(t, 0x100, 0xF00)
	if f.Receive(can.Frame{ID: 0x200, Len: 8}) {
		t.Fatalf("frame outside filter accepted")
	}
	fr, _ := can.NewFrame(0x1AB, []byte{1, 2, 3, 4, 5})
	if !f.Receive(fr) {
		t.Fatalf("matching frame rejected")
	}
	if f.Read(flexcan.IFLAG1) != flexcan.SlotFlag(2).Mask() {
		t.Fatalf("iflag=%#x", f.Read(flexcan.IFLAG1))
	}
	got, _ := flexcan.Decode(f, 2)
	if got.ID != fr.ID || got.Len != fr.Len || got.Data != fr.Data {
		t.Fatalf("got %+v want %+v", got, fr)
	}
	f.Receive(fr)
	if code := flexcan.CS_CODE.Get(f.ReadRAM(2 * flexcan.MBSizeWords)); code != flexcan.CodeRxOverrun {
		t.Fatalf("second frame into full slot: code=%#x", code)
	}
	f.Write(flexcan.IFLAG1, flexcan.SlotFlag(2).Mask())
	if f.Read(flexcan.IFLAG1) != 0 {
		t.Fatalf("flag not cleared")
	}
	if code := flexcan.CS_CODE.Get(f.ReadRAM(2 * flexcan.MBSizeWords)); code != flexcan.CodeRxEmpty {
		t.Fatalf("acked slot not released: code=%#x", code)
	}
}

func TestFlexCANDropsWhileFrozen(t *testing.T) {
	f := armed(t, 0x100, 0)
	f.Write(flexcan.MCR, flexcan.MCR_FRZ.Mask()|flexcan.MCR_HALT.Mask())
	if f.Receive(can.Frame{ID: 0x100}) {
		t.Fatalf("frozen controller accepted a frame")
	}
}

func TestFlexCANTransmitOntoBus(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	a := armed(t, 0, 0)
	b := armed(t, 0x42, can.CAN_EFF_MASK)
	got := make(chan struct{}, 1)
	b.SetIRQ(func() bool {
		b.Write(flexcan.IFLAG1, flexcan.RxSlotMask)
		got <- struct{}{}
		return true
	})
	b.Write(flexcan.IMASK1, flexcan.RxSlotMask)
	a.Connect(bus)
	b.Connect(bus)

	if _, ok := flexcan.TxAvailable(a); !ok {
		t.Fatalf("no free tx slot on idle controller")
	}
	fr, _ := can.NewFrame(0x42, []byte("hello"))
	flexcan.EncodeTx(a, 0, fr)
	if !flexcan.SlotFlag(0).IsSet(a.Read(flexcan.IFLAG1)) {
		t.Fatalf("tx completion flag not set")
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("frame did not reach peer")
	}
	if sent := a.Sent(); len(sent) != 1 || sent[0].ID != 0x42 {
		t.Fatalf("sent=%v", sent)
	}
}

func TestFlexCANTxFaults(t *testing.T) {
	f := armed(t, 0, 0)
	f.SetFaults(Faults{TxBusy: true})
	if _, ok := flexcan.TxAvailable(f); ok {
		t.Fatalf("busy controller offered a tx slot")
	}
	f.SetFaults(Faults{TxNoComplete: true})
	flexcan.EncodeTx(f, 0, can.Frame{ID: 1})
	if f.Read(flexcan.IFLAG1) != 0 {
		t.Fatalf("stalled transmission completed")
	}
	if slot, ok := flexcan.TxAvailable(f); !ok || slot != 1 {
		t.Fatalf("expected slot 1 free, got %d %v", slot, ok)
	}
}

func TestBusBroadcastDropDoesNotBlock(t *testing.T) {
	bus := NewBus()
	slow := &Port{Out: make(chan can.Frame, 4), Closed: make(chan struct{})}
	bus.Add(slow)
	defer bus.Remove(slow)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		bus.Broadcast(nil, can.Frame{ID: 0x123})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(slow.Out) != cap(slow.Out) {
		t.Fatalf("expected port buffer to be full, got len=%d cap=%d", len(slow.Out), cap(slow.Out))
	}
}

func TestBusSkipsSender(t *testing.T) {
	bus := NewBus()
	a := &Port{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	b := &Port{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	bus.Add(a)
	bus.Add(b)
	bus.Broadcast(a, can.Frame{ID: 7})
	if len(a.Out) != 0 || len(b.Out) != 1 {
		t.Fatalf("a=%d b=%d", len(a.Out), len(b.Out))
	}
	bus.Remove(a)
	bus.Remove(a)
	if bus.Count() != 1 {
		t.Fatalf("count=%d", bus.Count())
	}
}
