package timing

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/kstaniek/go-flexcan/internal/reg"
)

// ErrTimeout is returned when a bounded wait expires.
var ErrTimeout = errors.New("timeout")

// DefaultTimeout matches 2^24 ticks of an 80 MHz timer.
const DefaultTimeout = 200 * time.Millisecond

// Waiter polls a condition against one dedicated timer channel. Calls are
// serialized because every wait rearms the channel.
type Waiter struct {
	mu sync.Mutex
	ch Counter
	hz uint64

	// Timeout bounds UntilSet and UntilClear.
	Timeout time.Duration
}

// NewWaiter returns a waiter on ch, which counts at hz.
func NewWaiter(ch Counter, hz uint32) *Waiter {
	return &Waiter{ch: ch, hz: uint64(hz), Timeout: DefaultTimeout}
}

// segment is the most ticks timed on one arming of the channel. Longer waits
// rearm well before the down-counter can wrap.
const segment = CounterMax / 2

// Wait samples cond until it reports true or d has elapsed on the timer.
// cond is sampled at least once, so d == 0 still observes a condition that
// already holds.
func (w *Waiter) Wait(d time.Duration, cond func() bool) error {
	remaining := w.ticks(d)
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		span := uint32(min(remaining, segment))
		w.ch.Stop()
		w.ch.Load(CounterMax)
		w.ch.Start()
		for {
			if cond() {
				return nil
			}
			elapsed := CounterMax - w.ch.Value()
			if elapsed < span {
				continue
			}
			if uint64(elapsed) >= remaining {
				return ErrTimeout
			}
			remaining -= uint64(elapsed)
			break
		}
	}
}

// UntilSet waits for any bit of f to be set in the value returned by read.
func (w *Waiter) UntilSet(read func() uint32, f reg.Field) error {
	return w.Wait(w.Timeout, func() bool { return f.IsSet(read()) })
}

// UntilClear waits for every bit of f to be clear in the value returned by read.
func (w *Waiter) UntilClear(read func() uint32, f reg.Field) error {
	return w.Wait(w.Timeout, func() bool { return !f.IsSet(read()) })
}

func (w *Waiter) ticks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	us := uint64(d / time.Microsecond)
	if us/1e6 > math.MaxUint64/w.hz {
		return math.MaxUint64
	}
	return us/1e6*w.hz + us%1e6*w.hz/1e6
}
