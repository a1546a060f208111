package socketcan

import (
	"context"
	"errors"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/logging"
	"github.com/kstaniek/go-flexcan/internal/metrics"
	"github.com/kstaniek/go-flexcan/internal/transport"
)

var ErrTxOverflow = errors.New("socketcan tx overflow")

// Dev is what the link needs from a device; *Device in production, fakes in
// tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// TXWriter funnels SocketCAN writes through one goroutine.
type TXWriter struct{ base *transport.AsyncTx }

var _ transport.Link = (*TXWriter)(nil)

// NewTXWriter creates a writer on dev buffering up to buf frames.
func NewTXWriter(parent context.Context, dev Dev, buf int) *TXWriter {
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSocketCANWrite)
			logging.L().Debug("socketcan_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncLinkTx(metrics.LinkSocketCAN) },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, dev.WriteFrame, hooks)}
}

// SendFrame queues fr; ErrTxOverflow when the buffer is full.
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Stats reports the writer's counters.
func (w *TXWriter) Stats() transport.Stats { return w.base.Stats() }

// Close stops the writer goroutine.
func (w *TXWriter) Close() { w.base.Close() }

// ReadLoop reads frames from dev and hands data frames to out until ctx is
// done or the device fails. Remote and error frames are skipped.
func ReadLoop(ctx context.Context, dev Dev, out func(can.Frame)) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		var fr can.Frame
		if err := dev.ReadFrame(&fr); err != nil {
			if errors.Is(err, ErrNotData) {
				continue
			}
			if errors.Is(err, can.ErrInvalidLength) || errors.Is(err, ErrShortRead) {
				metrics.IncMalformed()
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			metrics.IncError(metrics.ErrSocketCANRead)
			return err
		}
		metrics.IncLinkRx(metrics.LinkSocketCAN)
		out(fr)
	}
}
