package serial

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/metrics"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the adapter's UART. readTimeout bounds each Read so ReadLoop
// notices cancellation.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	return serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout})
}

// ReadLoop decodes frames from sp and hands them to out until ctx is done or
// a read fails. A read returning no bytes (timeout) is not an error.
func ReadLoop(ctx context.Context, sp Port, out func(can.Frame)) error {
	var dec Decoder
	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := sp.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n], out)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && n == 0 && ctx.Err() == nil {
				// tarm/serial reports a read timeout as EOF on some platforms
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			metrics.IncError(metrics.ErrSerialRead)
			return err
		}
	}
}
