// Package socketcan bridges frames to a Linux SocketCAN interface in CAN-FD
// mode.
package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-flexcan/internal/can"
)

// Sizes of struct can_frame and struct canfd_frame (linux/can.h).
const (
	classicMTU = 16
	fdMTU      = 72
)

// canfd_frame flags.
const (
	flagBRS = 0x01 // bit rate switch
	flagFDF = 0x04 // FD frame
)

var (
	// ErrNotData marks remote and error frames, which the driver never carries.
	ErrNotData = errors.New("socketcan: not a data frame")
	// ErrShortRead reports a read that was neither a classic nor an FD frame.
	ErrShortRead = errors.New("socketcan: short read")
)

// encodeFD lays fr out as a struct canfd_frame:
//
//	can_id u32 [0:4] (host order, EFF flag set)
//	len    u8  [4]
//	flags  u8  [5]
//	res    2B  [6:8]
//	data   64B [8:72]
//
// Fields are in host byte order; every supported target is little-endian.
func encodeFD(buf *[fdMTU]byte, fr can.Frame) {
	*buf = [fdMTU]byte{}
	binary.LittleEndian.PutUint32(buf[0:4], fr.ID&can.CAN_EFF_MASK|can.CAN_EFF_FLAG)
	buf[4] = fr.Len
	buf[5] = flagBRS | flagFDF
	copy(buf[8:], fr.Data[:fr.Len])
}

// decode parses a classic (16 byte) or FD (72 byte) frame read from the
// socket. Standard identifiers are accepted and carried as-is.
func decode(b []byte) (can.Frame, error) {
	var fr can.Frame
	maxLen := 0
	switch len(b) {
	case classicMTU:
		maxLen = 8
	case fdMTU:
		maxLen = can.MaxDataLen
	default:
		return fr, fmt.Errorf("%w: %d bytes", ErrShortRead, len(b))
	}
	id := binary.LittleEndian.Uint32(b[0:4])
	if id&(can.CAN_RTR_FLAG|can.CAN_ERR_FLAG) != 0 {
		return fr, ErrNotData
	}
	n := int(b[4])
	if n > maxLen {
		return fr, fmt.Errorf("%w: %d", can.ErrInvalidLength, n)
	}
	return can.NewFrame(id&can.CAN_EFF_MASK, b[8:8+n])
}
