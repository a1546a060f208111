package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/flexcan"
	"github.com/kstaniek/go-flexcan/internal/metrics"
	"github.com/kstaniek/go-flexcan/internal/rxqueue"
	"github.com/kstaniek/go-flexcan/internal/timing"
)

type instanceState int

const (
	stateOperating instanceState = iota
	stateFrozen
	stateFaulted // a handshake failed; only a stop/start cycle recovers
)

func (s instanceState) String() string {
	switch s {
	case stateOperating:
		return "operating"
	case stateFrozen:
		return "frozen"
	}
	return "faulted"
}

type instance struct {
	id    int
	regs  flexcan.Registers
	rx    *rxqueue.Consumer
	state instanceState
}

// Group is the foreground API over every FlexCAN instance of the board. It
// is valid from Manager.Start until Manager.Stop.
//
// Calls are not synchronized against each other: one goroutine at a time
// may use a Group. ReconfigureFilters in particular must not overlap any
// other call. Only the receive interrupts run concurrently with the caller.
type Group struct {
	inst      []*instance
	prog      *flexcan.Programmer
	handshake *timing.Waiter
	sel       *timing.Waiter
	clock     *timing.Clock
	logger    *slog.Logger
	started   atomic.Bool
}

// InterfaceCount returns the number of instances.
func (g *Group) InterfaceCount() int { return len(g.inst) }

// Now returns the current time on the reference clock.
func (g *Group) Now() time.Duration { return g.clock.Now() }

func (g *Group) instance(idx int) (*instance, error) {
	if !g.started.Load() {
		return nil, countErr(ErrNotStarted)
	}
	if idx < 0 || idx >= len(g.inst) {
		return nil, countErr(fmt.Errorf("%w: instance %d of %d", ErrBadArgument, idx, len(g.inst)))
	}
	return g.inst[idx], nil
}

// Write transmits frames[0] on instance idx and waits for completion. At
// most one frame is sent per call; the count of frames sent is returned.
// ErrBufferFull means no transmit buffer was free; nothing was sent.
func (g *Group) Write(idx int, frames []can.Frame) (int, error) {
	in, err := g.instance(idx)
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, countErr(fmt.Errorf("%w: no frames", ErrBadArgument))
	}
	fr := frames[0]
	if !fr.Valid() {
		return 0, countErr(fmt.Errorf("%w: frame length %d", ErrBadArgument, fr.Len))
	}
	if in.state != stateOperating {
		return 0, countErr(fmt.Errorf("instance %d %s: %w", idx, in.state, ErrFailure))
	}
	slot, ok := flexcan.TxAvailable(in.regs)
	if !ok {
		return 0, countErr(ErrBufferFull)
	}
	done := flexcan.SlotFlag(slot)
	// A completion left over from an earlier transmission must not satisfy
	// this one.
	in.regs.Write(flexcan.IFLAG1, done.Mask())
	flexcan.EncodeTx(in.regs, slot, fr)
	err = g.handshake.UntilSet(func() uint32 { return in.regs.Read(flexcan.IFLAG1) }, done)
	if err != nil {
		flexcan.AbortTx(in.regs, slot)
		in.regs.Write(flexcan.IFLAG1, done.Mask())
		metrics.IncError(metrics.ErrTxTimeout)
		return 0, fmt.Errorf("instance %d slot %d completion: %w: %w", idx, slot, ErrFailure, err)
	}
	in.regs.Write(flexcan.IFLAG1, done.Mask())
	metrics.IncTx(idx)
	return 1, nil
}

// Read pops the oldest received frame of instance idx. ok is false, with a
// nil error, when nothing is queued.
func (g *Group) Read(idx int) (fr can.Frame, ok bool, err error) {
	in, err := g.instance(idx)
	if err != nil {
		return fr, false, err
	}
	fr, ok = in.rx.Pop()
	return fr, ok, nil
}

// Select waits up to timeout until any instance has a received frame or,
// unless ignoreWriteAvailable, a free transmit buffer. ready is false, with
// a nil error, when the timeout expired first. The condition is checked at
// least once, so a zero timeout polls.
func (g *Group) Select(timeout time.Duration, ignoreWriteAvailable bool) (ready bool, err error) {
	if !g.started.Load() {
		return false, countErr(ErrNotStarted)
	}
	err = g.sel.Wait(timeout, func() bool {
		for _, in := range g.inst {
			if in.rx.Len() > 0 {
				return true
			}
			if !ignoreWriteAvailable && in.state == stateOperating {
				if _, ok := flexcan.TxAvailable(in.regs); ok {
					return true
				}
			}
		}
		return false
	})
	if errors.Is(err, timing.ErrTimeout) {
		return false, nil
	}
	return err == nil, err
}

// ReconfigureFilters replaces the acceptance filters of every instance:
// filters[j] is bound to receive slot j+2. Each instance is frozen,
// reprogrammed and resumed in turn. On a failed handshake the instances
// from the failing one on are left as they are; the previous filter set
// must not be assumed active and the group needs a stop/start cycle.
func (g *Group) ReconfigureFilters(filters []can.Filter) error {
	if !g.started.Load() {
		return countErr(ErrNotStarted)
	}
	if len(filters) > flexcan.FilterCount {
		return countErr(fmt.Errorf("%w: %d filters, max %d", ErrBadArgument, len(filters), flexcan.FilterCount))
	}
	for _, in := range g.inst {
		in.state = stateFrozen
		if err := g.prog.Reconfigure(in.regs, filters); err != nil {
			in.state = stateFaulted
			g.logger.Error("filter_reconfigure_failed", "instance", in.id, "error", err)
			return countErr(fmt.Errorf("instance %d: %w", in.id, err))
		}
		in.state = stateOperating
	}
	metrics.IncFilterReconfig()
	g.logger.Info("filter_reconfigured", "filters", len(filters))
	return nil
}

// Discarded returns how many frames instance idx dropped on a full queue.
func (g *Group) Discarded(idx int) (uint64, error) {
	in, err := g.instance(idx)
	if err != nil {
		return 0, err
	}
	return in.rx.Discarded(), nil
}
