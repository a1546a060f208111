package flexcan

import (
	"math/bits"

	"github.com/kstaniek/go-flexcan/internal/metrics"
	"github.com/kstaniek/go-flexcan/internal/rxqueue"
	"github.com/kstaniek/go-flexcan/internal/timing"
)

// Pipeline is the receive interrupt path of one instance: it moves a filled
// receive buffer into the instance's reception queue.
type Pipeline struct {
	instance int
	regs     Registers
	clock    *timing.Clock
	rx       *rxqueue.Producer
}

// NewPipeline binds the interrupt path of instance to its registers, the
// shared monotonic clock and the producer half of its queue.
func NewPipeline(instance int, regs Registers, clock *timing.Clock, rx *rxqueue.Producer) *Pipeline {
	return &Pipeline{instance: instance, regs: regs, clock: clock, rx: rx}
}

// Handle services one receive interrupt. It handles the lowest pending
// receive slot; any other pending slot keeps the line asserted and is
// serviced on the next entry. Flags outside the receive slots are ignored and
// left untouched.
func (p *Pipeline) Handle() {
	slot, ok := pendingSlot(p.regs.Read(IFLAG1))
	if !ok {
		metrics.IncRxIgnored()
		return
	}
	if p.rx.Full() {
		// Dropped without touching the buffer; acknowledging the flag
		// below releases it for the next frame.
		p.rx.Discard()
		metrics.IncRxDiscard(p.instance)
	} else {
		fr, captured := Decode(p.regs, slot)
		// Reading TIMER also unlocks the buffer.
		now := uint16(p.regs.Read(TIMER))
		fr.Timestamp = p.clock.Resolve(now, captured)
		if p.rx.Push(fr) {
			metrics.IncRx(p.instance)
		}
	}
	p.regs.Write(IFLAG1, SlotFlag(slot).Mask())
}

// pendingSlot returns the lowest receive slot flagged in iflag.
func pendingSlot(iflag uint32) (int, bool) {
	rx := iflag & RxSlotMask
	if rx == 0 {
		return 0, false
	}
	return bits.TrailingZeros32(rx), true
}
