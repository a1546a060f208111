package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/logging"
	"github.com/kstaniek/go-flexcan/internal/metrics"
	"github.com/kstaniek/go-flexcan/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// TXWriter funnels all serial writes through one goroutine.
type TXWriter struct{ base *transport.AsyncTx }

var _ transport.Link = (*TXWriter)(nil)

// NewTXWriter creates a serial TXWriter buffering up to buf frames.
func NewTXWriter(parent context.Context, sp Port, buf int) *TXWriter {
	send := func(fr can.Frame) error {
		b, err := Encode(fr)
		if err != nil {
			return err
		}
		_, err = sp.Write(b)
		return err
	}
	hooks := transport.Hooks{
		MaxLen:   classicMax,
		OnReject: func(can.Frame) { metrics.IncMalformed() },
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncLinkTx(metrics.LinkSerial) },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous write. Frames longer than 8 bytes
// are refused with transport.ErrTooLong and counted as malformed; a full
// buffer drops with ErrTxOverflow.
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Stats reports the writer's counters.
func (w *TXWriter) Stats() transport.Stats { return w.base.Stats() }

// Close stops the writer and waits for its goroutine to exit.
func (w *TXWriter) Close() { w.base.Close() }
