//go:build !linux

package socketcan

import (
	"errors"

	"github.com/kstaniek/go-flexcan/internal/can"
)

// ErrUnsupported is returned by Open off Linux.
var ErrUnsupported = errors.New("socketcan: only supported on linux")

// Device is unavailable on this platform.
type Device struct{}

func Open(string) (*Device, error) { return nil, ErrUnsupported }

func (*Device) Close() error { return ErrUnsupported }
func (*Device) ReadFrame(*can.Frame) error { return ErrUnsupported }
func (*Device) WriteFrame(can.Frame) error { return ErrUnsupported }
