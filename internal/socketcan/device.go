//go:build linux

package socketcan

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-flexcan/internal/can"
)

// Device is a raw CAN socket bound to one interface with FD frames enabled.
type Device struct {
	fd int
}

// Open binds a raw CAN socket to iface and enables CAN-FD frames.
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("enable CAN FD: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic or FD frame.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [fdMTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	f, err := decode(buf[:n])
	if err != nil {
		return err
	}
	*fr = f
	return nil
}

// WriteFrame writes fr as a bit-rate switched FD frame.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [fdMTU]byte
	encodeFD(&buf, fr)
	_, err := unix.Write(d.fd, buf[:])
	return err
}
