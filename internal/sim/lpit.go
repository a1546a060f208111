package sim

import (
	"sync"
	"time"

	"github.com/kstaniek/go-flexcan/internal/timing"
)

// LPITChannels is the number of timer channels.
const LPITChannels = 4

// LPIT models the periodic interrupt timer: four 32-bit down-counters
// reloading from their load value, optionally chained to the previous channel.
type LPIT struct {
	mu      sync.Mutex
	clk     Clock
	hz      uint64
	enabled bool
	ch      [LPITChannels]lpitChannel
}

type lpitChannel struct {
	reload  uint32
	running bool
	chained bool
	start   time.Duration
	stopped uint32
}

// NewLPIT returns a timer counting at hz on clk, in reset state.
func NewLPIT(clk Clock, hz uint32) *LPIT {
	t := &LPIT{clk: clk, hz: uint64(hz)}
	t.Reset()
	return t
}

func (t *LPIT) Enable()  { t.mu.Lock(); t.enabled = true; t.mu.Unlock() }
func (t *LPIT) Disable() { t.mu.Lock(); t.enabled = false; t.mu.Unlock() }

// Enabled reports whether the module clock is running.
func (t *LPIT) Enabled() bool { t.mu.Lock(); defer t.mu.Unlock(); return t.enabled }

func (t *LPIT) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.ch {
		t.ch[i] = lpitChannel{stopped: timing.CounterMax}
	}
}

func (t *LPIT) Chain(ch int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch > 0 && ch < LPITChannels {
		t.ch[ch].chained = true
	}
}

// Channel returns channel ch. It panics for a channel the timer lacks.
func (t *LPIT) Channel(ch int) timing.Counter {
	if ch < 0 || ch >= LPITChannels {
		panic("sim: no such timer channel")
	}
	return &lpitCounter{t: t, n: ch}
}

// value returns the current count of channel n. Callers hold t.mu.
func (t *LPIT) value(n int, now time.Duration) uint32 {
	c := &t.ch[n]
	if !t.enabled || !c.running {
		return c.stopped
	}
	period := uint64(c.reload) + 1
	var elapsed uint64
	if c.chained && n > 0 {
		prev := &t.ch[n-1]
		if !prev.running {
			return c.stopped
		}
		// One decrement per completed period of the previous channel.
		elapsed = ticksAt(now-prev.start, t.hz) / (uint64(prev.reload) + 1)
	} else {
		elapsed = ticksAt(now-c.start, t.hz)
	}
	return c.reload - uint32(elapsed%period)
}

type lpitCounter struct {
	t *LPIT
	n int
}

func (c *lpitCounter) Load(v uint32) {
	c.t.mu.Lock()
	c.t.ch[c.n].reload = v
	c.t.mu.Unlock()
}

func (c *lpitCounter) Start() {
	now := c.t.clk.Now()
	c.t.mu.Lock()
	ch := &c.t.ch[c.n]
	ch.running = true
	ch.start = now
	c.t.mu.Unlock()
}

func (c *lpitCounter) Stop() {
	now := c.t.clk.Now()
	c.t.mu.Lock()
	ch := &c.t.ch[c.n]
	if ch.running {
		ch.stopped = c.t.value(c.n, now)
		ch.running = false
	}
	c.t.mu.Unlock()
}

func (c *lpitCounter) Value() uint32 {
	now := c.t.clk.Now()
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.t.value(c.n, now)
}
