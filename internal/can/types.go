package can

import (
	"errors"
	"fmt"
	"time"
)

// Identifier widths and flag bits (same values as <linux/can.h>).
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDataLen is the CAN-FD payload MTU in bytes.
const MaxDataLen = 64

// ErrInvalidLength is returned for payloads that do not fit a CAN-FD frame.
var ErrInvalidLength = errors.New("can: invalid payload length")

// Frame is a CAN-FD frame with a 29-bit extended identifier.
// Len is always one of the lengths a DLC can express; only the first Len bytes
// of Data are valid. Timestamp is the capture time on the driver's monotonic
// clock (zero for frames that were never received).
type Frame struct {
	ID        uint32
	Len       uint8
	Data      [MaxDataLen]byte
	Timestamp time.Duration
}

// NewFrame builds a frame for id carrying payload. Payloads whose length has no
// exact DLC are zero padded up to the next valid length.
func NewFrame(id uint32, payload []byte) (Frame, error) {
	var f Frame
	if len(payload) > MaxDataLen {
		return f, fmt.Errorf("%w: %d", ErrInvalidLength, len(payload))
	}
	f.ID = id & CAN_EFF_MASK
	f.Len = uint8(LengthToDLC(len(payload)).Len())
	copy(f.Data[:], payload)
	return f, nil
}

// Payload returns the valid part of Data.
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }

// DLC returns the data length code matching Len.
func (f Frame) DLC() DLC { return LengthToDLC(int(f.Len)) }

// Valid reports whether Len is a length a DLC can express.
func (f Frame) Valid() bool {
	return int(f.Len) <= MaxDataLen && LengthToDLC(int(f.Len)).Len() == int(f.Len)
}

// Filter is an acceptance filter: a frame is accepted when
// frame.ID&Mask == ID&Mask.
type Filter struct {
	ID   uint32 `yaml:"id"`
	Mask uint32 `yaml:"mask"`
}

// Match reports whether id passes the filter.
func (f Filter) Match(id uint32) bool { return id&f.Mask == f.ID&f.Mask }
