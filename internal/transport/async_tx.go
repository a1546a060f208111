package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-flexcan/internal/can"
)

var (
	// ErrAsyncTxClosed is returned by SendFrame after Close.
	ErrAsyncTxClosed = errors.New("async tx closed")
	// ErrTooLong is returned by SendFrame for frames above the link's MaxLen.
	ErrTooLong = errors.New("frame too long for link")
)

// Hooks let each link keep its own metrics and logging.
type Hooks struct {
	// MaxLen is the longest payload the link carries; 0 means
	// can.MaxDataLen. Longer frames are refused by SendFrame.
	MaxLen int
	// OnReject is called for a refused frame before ErrTooLong is returned.
	OnReject func(can.Frame)
	// OnError is called when the link write fails; the frame is lost.
	OnError func(error)
	// OnAfter is called after each successful write.
	OnAfter func()
	// OnDrop is called on a full buffer; its error is returned from
	// SendFrame. Nil drops silently.
	OnDrop func() error
}

// Stats counts what an AsyncTx did with the frames offered to it.
type Stats struct {
	Written  uint64
	Failed   uint64
	Dropped  uint64
	Rejected uint64
	// HighWater is the deepest the queue has been.
	HighWater int
}

// AsyncTx hands bus frames to a single link writer goroutine. SendFrame never
// blocks: with the queue full the frame is dropped, so a wedged device cannot
// stall the bus delivery that feeds it.
//
//	a := NewAsyncTx(ctx, buf, dev.WriteFrame, hooks)
//	a.SendFrame(fr)
//	a.Close()
type AsyncTx struct {
	q      chan can.Frame
	write  func(can.Frame) error
	hooks  Hooks
	maxLen uint8

	mu     sync.Mutex // guards q against Close
	closed atomic.Bool
	stop   context.CancelFunc
	done   chan struct{}

	written, failed, dropped, rejected atomic.Uint64
	highWater                          atomic.Int64
}

// NewAsyncTx starts the writer goroutine with room for buf queued frames.
// The goroutine exits when parent is cancelled or Close is called.
func NewAsyncTx(parent context.Context, buf int, write func(can.Frame) error, hooks Hooks) *AsyncTx {
	max := hooks.MaxLen
	if max <= 0 || max > can.MaxDataLen {
		max = can.MaxDataLen
	}
	ctx, stop := context.WithCancel(parent)
	a := &AsyncTx{
		q:      make(chan can.Frame, buf),
		write:  write,
		hooks:  hooks,
		maxLen: uint8(max),
		stop:   stop,
		done:   make(chan struct{}),
	}
	go a.run(ctx)
	return a
}

func (a *AsyncTx) run(ctx context.Context) {
	defer close(a.done)
	for {
		var fr can.Frame
		select {
		case <-ctx.Done():
			return
		case f, ok := <-a.q:
			if !ok {
				return
			}
			fr = f
		}
		if err := a.write(fr); err != nil {
			a.failed.Add(1)
			if a.hooks.OnError != nil {
				a.hooks.OnError(err)
			}
			continue
		}
		a.written.Add(1)
		if a.hooks.OnAfter != nil {
			a.hooks.OnAfter()
		}
	}
}

// SendFrame queues fr for the writer goroutine. It returns ErrTooLong for a
// frame the link cannot carry and the OnDrop error when the queue is full.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if fr.Len > a.maxLen {
		a.rejected.Add(1)
		if a.hooks.OnReject != nil {
			a.hooks.OnReject(fr)
		}
		return fmt.Errorf("%w: %d > %d", ErrTooLong, fr.Len, a.maxLen)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.q <- fr:
		if d := int64(len(a.q)); d > a.highWater.Load() {
			a.highWater.Store(d)
		}
		return nil
	default:
	}
	a.dropped.Add(1)
	if a.hooks.OnDrop != nil {
		return a.hooks.OnDrop()
	}
	return nil
}

// Pending returns the number of queued frames.
func (a *AsyncTx) Pending() int { return len(a.q) }

// Stats returns the counters so far.
func (a *AsyncTx) Stats() Stats {
	return Stats{
		Written:   a.written.Load(),
		Failed:    a.failed.Load(),
		Dropped:   a.dropped.Load(),
		Rejected:  a.rejected.Load(),
		HighWater: int(a.highWater.Load()),
	}
}

// Close stops the writer goroutine and waits for it. Queued frames not yet
// written are discarded. Close is idempotent.
func (a *AsyncTx) Close() {
	a.mu.Lock()
	if a.closed.Swap(true) {
		a.mu.Unlock()
		return
	}
	a.stop()
	close(a.q)
	a.mu.Unlock()
	<-a.done
}
