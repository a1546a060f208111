package timing

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kstaniek/go-flexcan/internal/reg"
)

// fakeCounter decrements by step on every read while running.
type fakeCounter struct {
	reload  uint32
	value   uint32
	step    uint32
	running bool
	starts  int
}

func (c *fakeCounter) Load(v uint32) { c.reload = v }
func (c *fakeCounter) Start()        { c.value = c.reload; c.running = true; c.starts++ }
func (c *fakeCounter) Stop()         { c.running = false }
func (c *fakeCounter) Value() uint32 {
	v := c.value
	if c.running {
		c.value -= c.step
	}
	return v
}

// seqCounter replays a fixed sequence of readings.
type seqCounter struct {
	vals []uint32
	i    int
}

func (c *seqCounter) Load(uint32) {}
func (c *seqCounter) Start()      {}
func (c *seqCounter) Stop()       {}
func (c *seqCounter) Value() uint32 {
	v := c.vals[c.i]
	if c.i < len(c.vals)-1 {
		c.i++
	}
	return v
}

func TestWaiterConditionMet(t *testing.T) {
	ch := &fakeCounter{step: 1000}
	w := NewWaiter(ch, 1_000_000)
	calls := 0
	err := w.Wait(200*time.Millisecond, func() bool { calls++; return calls == 5 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected 5 samples, got %d", calls)
	}
	if ch.starts != 1 || ch.reload != CounterMax {
		t.Fatalf("channel not rearmed: starts=%d reload=0x%X", ch.starts, ch.reload)
	}
}

func TestWaiterTimeout(t *testing.T) {
	ch := &fakeCounter{step: 1000}
	w := NewWaiter(ch, 1_000_000)
	calls := 0
	err := w.Wait(200*time.Millisecond, func() bool { calls++; return false })
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	// 200 ms at 1 MHz is 200000 ticks; 1000 ticks per poll.
	if calls < 200 || calls > 202 {
		t.Fatalf("unexpected sample count %d", calls)
	}
}

func TestWaiterZeroTimeoutSamplesOnce(t *testing.T) {
	w := NewWaiter(&fakeCounter{step: 1}, 80_000_000)
	calls := 0
	if err := w.Wait(0, func() bool { calls++; return true }); err != nil {
		t.Fatalf("expected success on first sample, got %v", err)
	}
	calls = 0
	if err := w.Wait(0, func() bool { calls++; return false }); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one sample, got %d", calls)
	}
}

func TestWaiterUntilSetClear(t *testing.T) {
	w := NewWaiter(&fakeCounter{step: 10_000}, 80_000_000)
	ack := reg.Bit(24)
	var r uint32
	reads := 0
	read := func() uint32 {
		reads++
		if reads == 3 {
			r |= ack.Mask()
		}
		return r
	}
	if err := w.UntilSet(read, ack); err != nil {
		t.Fatalf("UntilSet: %v", err)
	}
	if err := w.UntilClear(func() uint32 { return r }, ack); !errors.Is(err, ErrTimeout) {
		t.Fatalf("UntilClear on stuck bit: expected ErrTimeout, got %v", err)
	}
	r = 0
	if err := w.UntilClear(func() uint32 { return r }, ack); err != nil {
		t.Fatalf("UntilClear: %v", err)
	}
}

func TestWaiterTicks(t *testing.T) {
	w := NewWaiter(&fakeCounter{}, 80_000_000)
	if got := w.ticks(time.Hour); got != 288_000_000_000 {
		t.Fatalf("1h at 80MHz = %d ticks", got)
	}
	if got := w.ticks(DefaultTimeout); got != 16_000_000 {
		t.Fatalf("200ms at 80MHz = %d ticks", got)
	}
	if got := w.ticks(time.Duration(math.MaxInt64)); got != math.MaxUint64 {
		t.Fatalf("expected saturation, got %d", got)
	}
}

func TestWaiterLongWaitRearms(t *testing.T) {
	// 2 minutes at 80 MHz is more than one full turn of the 32-bit counter.
	ch := &fakeCounter{step: 1 << 24}
	w := NewWaiter(ch, 80_000_000)
	calls := 0
	err := w.Wait(2*time.Minute, func() bool { calls++; return false })
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if ch.starts != 5 {
		t.Fatalf("expected 5 armings, got %d", ch.starts)
	}
	// 9.6e9 ticks at 2^24 per poll, one extra sample per arming.
	if calls < 570 || calls > 580 {
		t.Fatalf("wait cut short: %d samples", calls)
	}
}

func TestClockTicksComposesWords(t *testing.T) {
	lo := &fakeCounter{value: CounterMax - 1000, running: false}
	hi := &fakeCounter{value: CounterMax - 2, running: false}
	c := NewClock(lo, hi, 80_000_000, 0)
	want := uint64(2)<<32 | 1000
	if got := c.Ticks(); got != want {
		t.Fatalf("Ticks = %d want %d", got, want)
	}
	if got := c.Now(); got != time.Duration(want/80)*time.Microsecond {
		t.Fatalf("Now = %v", got)
	}
}

func TestClockTicksRetriesOnCarry(t *testing.T) {
	hi := &seqCounter{vals: []uint32{CounterMax - 1, CounterMax - 2, CounterMax - 2, CounterMax - 2}}
	lo := &seqCounter{vals: []uint32{CounterMax - 5, CounterMax - 7}}
	c := NewClock(lo, hi, 80_000_000, 0)
	if got, want := c.Ticks(), uint64(2)<<32|7; got != want {
		t.Fatalf("Ticks = %d want %d", got, want)
	}
}

func TestClockResolve(t *testing.T) {
	const ref = 8_000_000 // 100 ms at 80 MHz
	tests := []struct {
		name     string
		tsHz     uint32
		now      uint16
		captured uint16
		elapsed  uint64 // in timestamp ticks
	}{
		{"same-rate", 80_000_000, 100, 70, 30},
		{"same-rate-wrapped", 80_000_000, 10, 65530, 16},
		{"slow-counter", 1_000_000, 500, 200, 300},
		{"slow-counter-wrapped", 1_000_000, 3, 65535, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo := &fakeCounter{value: CounterMax - ref}
			hi := &fakeCounter{value: CounterMax}
			c := NewClock(lo, hi, 80_000_000, tt.tsHz)
			got := c.Resolve(tt.now, tt.captured)
			back := tt.elapsed * 80_000_000 / uint64(tt.tsHz)
			want := time.Duration((ref-back)/80) * time.Microsecond
			if diff := got - want; diff < -time.Microsecond || diff > time.Microsecond {
				t.Fatalf("Resolve = %v want %v", got, want)
			}
		})
	}
}

func TestClockResolveNeverNegative(t *testing.T) {
	lo := &fakeCounter{value: CounterMax - 10}
	hi := &fakeCounter{value: CounterMax}
	c := NewClock(lo, hi, 80_000_000, 0)
	if got := c.Resolve(1000, 0); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
}
