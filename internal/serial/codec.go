// Package serial links the bus to an Ampio USB-CAN adapter over a UART. The
// adapter speaks classic CAN only, so frames longer than 8 bytes cannot
// cross this link.
package serial

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/metrics"
)

// ErrFrameTooLong is returned for frames the adapter cannot carry.
var ErrFrameTooLong = errors.New("serial: frame longer than 8 bytes")

// Envelope: [0x2D, pre1, len, data..., checksum] with len = len(data)+1 and
// checksum = 0x2D + len + sum(data) (mod 256). The adapter sends with
// pre1 = 0xD4; the host writes the same.
const (
	pre0 = 0x2D
	pre1 = 0xD4

	insSendExt  = 2    // send with extended identifier
	flagClassic = 0x80 // ORed with the payload length

	classicMax = 8
	// ln bounds of received envelopes: ID(4) + payload(0..8) + checksum(1).
	minLn = 4 + 0 + 1
	maxLn = 4 + classicMax + 1
)

func envelope(data []byte) []byte {
	n := len(data)
	out := make([]byte, n+4)
	out[0], out[1], out[2] = pre0, pre1, byte(n+1)
	sum := out[2] + pre0
	for i, b := range data {
		out[3+i] = b
		sum += b
	}
	out[3+n] = sum
	return out
}

// Encode builds the adapter command sending fr:
// INS(1) FLAGS(1) ID(4, big-endian) PAYLOAD(0..8).
func Encode(fr can.Frame) ([]byte, error) {
	if fr.Len > classicMax {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLong, fr.Len)
	}
	cmd := make([]byte, 6+fr.Len)
	cmd[0] = insSendExt
	cmd[1] = flagClassic | fr.Len
	binary.BigEndian.PutUint32(cmd[2:6], fr.ID&can.CAN_EFF_MASK)
	copy(cmd[6:], fr.Data[:fr.Len])
	return envelope(cmd), nil
}

// Decoder reassembles received envelopes from arbitrary read chunks.
type Decoder struct {
	buf bytes.Buffer
}

// compact reclaims the consumed prefix once the buffer is large and mostly
// read.
func (d *Decoder) compact() {
	data := d.buf.Bytes()
	if len(data) < 1024 || len(data)*4 >= cap(data) {
		return
	}
	clone := append([]byte(nil), data...)
	d.buf.Reset()
	_, _ = d.buf.Write(clone)
}

// Feed appends p and hands every complete frame to out. Bytes that do not
// form a valid envelope are skipped one at a time until the stream
// resynchronizes on a preamble.
func (d *Decoder) Feed(p []byte, out func(can.Frame)) {
	d.buf.Write(p)
	header := []byte{pre0, pre1}
	for {
		d.compact()
		data := d.buf.Bytes()
		if len(data) < 3 {
			return
		}
		i := bytes.Index(data, header)
		if i < 0 {
			// The last byte may be the first half of a preamble.
			last := data[len(data)-1]
			d.buf.Reset()
			_ = d.buf.WriteByte(last)
			return
		}
		if i > 0 {
			d.buf.Next(i)
			continue
		}
		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformed()
			d.buf.Next(1)
			continue
		}
		total := 3 + ln
		if len(data) < total {
			return
		}
		sum := byte(pre0) + data[2]
		for _, b := range data[3 : total-1] {
			sum += b
		}
		if sum != data[total-1] {
			metrics.IncMalformed()
			d.buf.Next(1)
			continue
		}
		id := binary.BigEndian.Uint32(data[3:7])
		// Classic lengths 0..8 all have an exact DLC, so this never pads.
		fr, _ := can.NewFrame(id, data[7:total-1])
		d.buf.Next(total)
		metrics.IncLinkRx(metrics.LinkSerial)
		out(fr)
	}
}

// Buffered returns the number of bytes held waiting for the rest of an
// envelope.
func (d *Decoder) Buffered() int { return d.buf.Len() }
