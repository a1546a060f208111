// Package rxqueue is the bounded reception queue between an interrupt handler
// and its foreground reader. The producer and consumer halves are separate
// types so each context only holds the side it may use.
package rxqueue

import (
	"sync/atomic"

	"github.com/kstaniek/go-flexcan/internal/can"
)

// DefaultCapacity is the number of frames buffered per instance.
const DefaultCapacity = 40

type shared struct {
	ch        chan can.Frame
	discarded atomic.Uint64
}

// Producer is the interrupt-side half. It never blocks: when the queue is full
// the arriving frame is dropped and counted.
type Producer struct{ q *shared }

// Consumer is the foreground half.
type Consumer struct{ q *shared }

// New creates a queue holding at most capacity frames.
func New(capacity int) (*Producer, *Consumer) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &shared{ch: make(chan can.Frame, capacity)}
	return &Producer{q: q}, &Consumer{q: q}
}

// Full reports whether the next Push would be dropped.
func (p *Producer) Full() bool { return len(p.q.ch) == cap(p.q.ch) }

// Push appends fr, or counts it as discarded when the queue is full.
// It reports whether the frame was queued.
func (p *Producer) Push(fr can.Frame) bool {
	select {
	case p.q.ch <- fr:
		return true
	default:
		p.q.discarded.Add(1)
		return false
	}
}

// Discard counts a frame dropped without being offered to the queue.
func (p *Producer) Discard() { p.q.discarded.Add(1) }

// Pop removes the oldest frame. ok is false when the queue is empty.
func (c *Consumer) Pop() (fr can.Frame, ok bool) {
	select {
	case fr = <-c.q.ch:
		return fr, true
	default:
		return fr, false
	}
}

// Len returns the number of queued frames.
func (c *Consumer) Len() int { return len(c.q.ch) }

// Cap returns the queue capacity.
func (c *Consumer) Cap() int { return cap(c.q.ch) }

// Discarded returns the number of frames dropped because the queue was full.
func (c *Consumer) Discarded() uint64 { return c.q.discarded.Load() }
